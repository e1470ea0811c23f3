package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
)

type chargeRepoStub struct {
	store.Repository

	creditErr error

	creditCalled bool
	creditParams store.LedgerMutationParams
}

func (s *chargeRepoStub) CreditAccount(ctx context.Context, params store.LedgerMutationParams) (*domain.LedgerEntry, error) {
	s.creditCalled = true
	s.creditParams = params
	if s.creditErr != nil {
		return nil, s.creditErr
	}
	return &domain.LedgerEntry{ID: uuid.New(), Amount: params.Amount}, nil
}

func chargeEventBody(t *testing.T, event domain.ChargeStatusEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func TestHandleMessage_AcksMalformedPayload(t *testing.T) {
	repo := &chargeRepoStub{}
	consumer := NewChargeStatusConsumer(repo, "XOF")

	if !consumer.HandleMessage([]byte("not json")) {
		t.Fatal("expected malformed payload to be acknowledged")
	}
	if repo.creditCalled {
		t.Fatal("did not expect a credit for a malformed payload")
	}
}

func TestHandleMessage_AcksMissingIntentID(t *testing.T) {
	repo := &chargeRepoStub{}
	consumer := NewChargeStatusConsumer(repo, "XOF")

	body := chargeEventBody(t, domain.ChargeStatusEvent{PayerRef: uuid.NewString(), Status: "confirmed", Amount: 5000})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected event without intent id to be acknowledged")
	}
	if repo.creditCalled {
		t.Fatal("did not expect a credit without an intent id")
	}
}

func TestHandleMessage_ConfirmedChargeCreditsWallet(t *testing.T) {
	repo := &chargeRepoStub{}
	consumer := NewChargeStatusConsumer(repo, "XOF")
	userID := uuid.New()

	body := chargeEventBody(t, domain.ChargeStatusEvent{
		IntentID: "chg_123",
		PayerRef: userID.String(),
		Amount:   5000,
		Currency: "xof",
		Status:   "successful",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected a confirmed charge to be acknowledged")
	}
	if !repo.creditCalled {
		t.Fatal("expected the wallet to be credited")
	}
	if repo.creditParams.UserID != userID {
		t.Fatalf("expected credit for user %s, got %s", userID, repo.creditParams.UserID)
	}
	if repo.creditParams.Category != domain.CategoryDeposit {
		t.Fatalf("expected deposit category, got %q", repo.creditParams.Category)
	}
	if repo.creditParams.IdempotencyKey != "charge:chg_123" {
		t.Fatalf("expected intent-derived idempotency key, got %q", repo.creditParams.IdempotencyKey)
	}
	if repo.creditParams.Currency != "XOF" {
		t.Fatalf("expected normalized currency, got %q", repo.creditParams.Currency)
	}
}

func TestHandleMessage_DuplicateReplayAcked(t *testing.T) {
	repo := &chargeRepoStub{creditErr: store.ErrDuplicateOperation}
	consumer := NewChargeStatusConsumer(repo, "XOF")

	body := chargeEventBody(t, domain.ChargeStatusEvent{
		IntentID: "chg_replayed",
		PayerRef: uuid.NewString(),
		Amount:   5000,
		Status:   "confirmed",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected a conflicting replay to be acknowledged, not requeued")
	}
}

func TestHandleMessage_RepoFailureRequeues(t *testing.T) {
	repo := &chargeRepoStub{creditErr: errors.New("connection refused")}
	consumer := NewChargeStatusConsumer(repo, "XOF")

	body := chargeEventBody(t, domain.ChargeStatusEvent{
		IntentID: "chg_transient",
		PayerRef: uuid.NewString(),
		Amount:   5000,
		Status:   "confirmed",
	})
	if consumer.HandleMessage(body) {
		t.Fatal("expected a transient failure to be requeued")
	}
}

func TestHandleMessage_FailedChargeAckedWithoutCredit(t *testing.T) {
	repo := &chargeRepoStub{}
	consumer := NewChargeStatusConsumer(repo, "XOF")

	body := chargeEventBody(t, domain.ChargeStatusEvent{
		IntentID: "chg_declined",
		PayerRef: uuid.NewString(),
		Amount:   5000,
		Status:   "declined",
		Reason:   "insufficient card balance",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected a failed charge to be acknowledged")
	}
	if repo.creditCalled {
		t.Fatal("did not expect a credit for a failed charge")
	}
}

func TestHandleMessage_UnparsablePayerRefAcked(t *testing.T) {
	repo := &chargeRepoStub{}
	consumer := NewChargeStatusConsumer(repo, "XOF")

	body := chargeEventBody(t, domain.ChargeStatusEvent{
		IntentID: "chg_badref",
		PayerRef: "not-a-uuid",
		Amount:   5000,
		Status:   "confirmed",
	})
	if !consumer.HandleMessage(body) {
		t.Fatal("expected an unresolvable payer ref to be acknowledged")
	}
	if repo.creditCalled {
		t.Fatal("did not expect a credit for an unresolvable payer ref")
	}
}

func TestProcessEvent_IgnoresIntermediateStatuses(t *testing.T) {
	repo := &chargeRepoStub{}
	consumer := NewChargeStatusConsumer(repo, "XOF")

	err := consumer.processEvent(context.Background(), domain.ChargeStatusEvent{
		IntentID: "chg_pending",
		PayerRef: uuid.NewString(),
		Amount:   5000,
		Status:   "processing",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.creditCalled {
		t.Fatal("did not expect a credit for an intermediate status")
	}
}

func TestNormalizeChargeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "confirmed", want: "confirmed"},
		{in: "SUCCESSFUL", want: "confirmed"},
		{in: " settled ", want: "confirmed"},
		{in: "declined", want: "failed"},
		{in: "Failure", want: "failed"},
		{in: "processing", want: "processing"},
	}
	for _, tt := range tests {
		if got := normalizeChargeStatus(tt.in); got != tt.want {
			t.Fatalf("status %q: expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
