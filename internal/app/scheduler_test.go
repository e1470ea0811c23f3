package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
)

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	published []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = append(p.published, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) routingKeys() []string {
	keys := make([]string, 0, len(p.published))
	for _, e := range p.published {
		keys = append(keys, e.routingKey)
	}
	return keys
}

type contributionRepoStub struct {
	store.Repository

	member     *domain.Member
	turn       *domain.Turn
	turnErr    error
	outcome    *domain.ContributionOutcome
	confirmErr error

	confirmCalled bool
	confirmParams store.ConfirmContributionParams
}

func (s *contributionRepoStub) FindMemberByUserID(ctx context.Context, groupID, userID uuid.UUID) (*domain.Member, error) {
	if s.member == nil {
		return nil, store.ErrMemberNotFound
	}
	return s.member, nil
}

func (s *contributionRepoStub) FindOpenTurn(ctx context.Context, groupID uuid.UUID) (*domain.Turn, error) {
	if s.turnErr != nil {
		return nil, s.turnErr
	}
	return s.turn, nil
}

func (s *contributionRepoStub) ConfirmContribution(ctx context.Context, params store.ConfirmContributionParams) (*domain.ContributionOutcome, error) {
	s.confirmCalled = true
	s.confirmParams = params
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return s.outcome, nil
}

func TestRecordContribution_RejectsInvalidPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload domain.RecordContributionPayload
	}{
		{
			name:    "zero amount",
			payload: domain.RecordContributionPayload{Amount: 0, IdempotencyKey: "key-1"},
		},
		{
			name:    "negative amount",
			payload: domain.RecordContributionPayload{Amount: -5000, IdempotencyKey: "key-2"},
		},
		{
			name:    "missing idempotency key",
			payload: domain.RecordContributionPayload{Amount: 5000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &contributionRepoStub{}
			svc := NewService(repo, nil, &publisherStub{}, "XOF", 0)

			_, err := svc.RecordContribution(context.Background(), uuid.New(), uuid.New(), tt.payload)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if repo.confirmCalled {
				t.Fatal("did not expect a confirmation attempt for an invalid payload")
			}
		})
	}
}

func TestRecordContribution_MapsMissingOpenTurn(t *testing.T) {
	repo := &contributionRepoStub{
		member:  &domain.Member{ID: uuid.New()},
		turnErr: store.ErrTurnNotFound,
	}
	svc := NewService(repo, nil, &publisherStub{}, "XOF", 0)

	_, err := svc.RecordContribution(context.Background(), uuid.New(), uuid.New(), domain.RecordContributionPayload{
		Amount:         5000,
		IdempotencyKey: "key-3",
	})
	if !errors.Is(err, store.ErrTurnNotOpen) {
		t.Fatalf("expected ErrTurnNotOpen when no turn is open, got %v", err)
	}
}

func TestRecordContribution_ConfirmsAgainstOpenTurn(t *testing.T) {
	memberID := uuid.New()
	turnID := uuid.New()
	repo := &contributionRepoStub{
		member: &domain.Member{ID: memberID},
		turn:   &domain.Turn{ID: turnID, Status: domain.TurnStatusOpen},
		outcome: &domain.ContributionOutcome{
			Contribution: &domain.Contribution{ID: uuid.New(), TurnID: turnID, MemberID: memberID, Amount: 5000},
		},
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	outcome, err := svc.RecordContribution(context.Background(), uuid.New(), uuid.New(), domain.RecordContributionPayload{
		Amount:         5000,
		IdempotencyKey: "key-4",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome.Duplicate {
		t.Fatal("did not expect a duplicate outcome")
	}
	if repo.confirmParams.TurnID != turnID {
		t.Fatalf("expected confirmation against turn %s, got %s", turnID, repo.confirmParams.TurnID)
	}
	if repo.confirmParams.MemberID != memberID {
		t.Fatalf("expected confirmation for member %s, got %s", memberID, repo.confirmParams.MemberID)
	}
	if repo.confirmParams.Method != "wallet" {
		t.Fatalf("expected default method wallet, got %q", repo.confirmParams.Method)
	}
	if repo.confirmParams.IdempotencyKey != "key-4" {
		t.Fatalf("expected idempotency key to pass through, got %q", repo.confirmParams.IdempotencyKey)
	}

	keys := producer.routingKeys()
	if len(keys) != 1 || keys[0] != domain.EventContributionRecorded {
		t.Fatalf("expected a single contribution.recorded event, got %v", keys)
	}
}

func TestRecordContribution_DuplicateReplayPublishesNothing(t *testing.T) {
	memberID := uuid.New()
	turnID := uuid.New()
	repo := &contributionRepoStub{
		member: &domain.Member{ID: memberID},
		turn:   &domain.Turn{ID: turnID, Status: domain.TurnStatusOpen},
		outcome: &domain.ContributionOutcome{
			Contribution: &domain.Contribution{ID: uuid.New(), TurnID: turnID, MemberID: memberID, Amount: 5000},
			Duplicate:    true,
		},
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	outcome, err := svc.RecordContribution(context.Background(), uuid.New(), uuid.New(), domain.RecordContributionPayload{
		Amount:         5000,
		IdempotencyKey: "key-replayed",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !outcome.Duplicate {
		t.Fatal("expected the replay to be flagged as duplicate")
	}
	if len(producer.published) != 0 {
		t.Fatalf("expected no events for a replay, got %v", producer.routingKeys())
	}
}

func TestRecordContribution_PropagatesInsufficientFunds(t *testing.T) {
	memberID := uuid.New()
	turnID := uuid.New()
	repo := &contributionRepoStub{
		member:     &domain.Member{ID: memberID},
		turn:       &domain.Turn{ID: turnID, Status: domain.TurnStatusOpen},
		confirmErr: store.ErrInsufficientFunds,
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	_, err := svc.RecordContribution(context.Background(), uuid.New(), uuid.New(), domain.RecordContributionPayload{
		Amount:         5000,
		IdempotencyKey: "key-broke",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds to pass through, got %v", err)
	}
	if !repo.confirmCalled {
		t.Fatal("expected the confirmation to be attempted")
	}
	if len(producer.published) != 0 {
		t.Fatalf("expected no events for a failed payment, got %v", producer.routingKeys())
	}
}

func TestRecordContribution_FinalPaymentOpensNextTurn(t *testing.T) {
	memberID := uuid.New()
	turnID := uuid.New()
	beneficiaryID := uuid.New()
	nextTurn := &domain.Turn{ID: uuid.New(), Sequence: 2, BeneficiaryMemberID: uuid.New(), PotAmount: 10000}
	repo := &contributionRepoStub{
		member: &domain.Member{ID: memberID},
		turn:   &domain.Turn{ID: turnID, Status: domain.TurnStatusOpen, BeneficiaryMemberID: beneficiaryID},
		outcome: &domain.ContributionOutcome{
			Contribution:  &domain.Contribution{ID: uuid.New(), TurnID: turnID, MemberID: memberID, Amount: 5000},
			TurnCompleted: true,
			PayoutEntry:   &domain.LedgerEntry{ID: uuid.New(), Amount: 10000},
			NextTurn:      nextTurn,
		},
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	_, err := svc.RecordContribution(context.Background(), uuid.New(), uuid.New(), domain.RecordContributionPayload{
		Amount:         5000,
		IdempotencyKey: "key-final",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	want := []string{domain.EventContributionRecorded, domain.EventPayoutIssued, domain.EventTurnOpened}
	got := producer.routingKeys()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}

	payout, ok := producer.published[1].body.(domain.PayoutIssuedEvent)
	if !ok {
		t.Fatalf("expected a payout event body, got %T", producer.published[1].body)
	}
	if payout.BeneficiaryMemberID != beneficiaryID {
		t.Fatalf("expected payout for beneficiary %s, got %s", beneficiaryID, payout.BeneficiaryMemberID)
	}
	if payout.Amount != 10000 {
		t.Fatalf("expected payout amount 10000, got %d", payout.Amount)
	}
}

func TestRecordContribution_LastTurnCompletesGroup(t *testing.T) {
	memberID := uuid.New()
	turnID := uuid.New()
	repo := &contributionRepoStub{
		member: &domain.Member{ID: memberID},
		turn:   &domain.Turn{ID: turnID, Status: domain.TurnStatusOpen, BeneficiaryMemberID: uuid.New()},
		outcome: &domain.ContributionOutcome{
			Contribution:   &domain.Contribution{ID: uuid.New(), TurnID: turnID, MemberID: memberID, Amount: 5000},
			TurnCompleted:  true,
			PayoutEntry:    &domain.LedgerEntry{ID: uuid.New(), Amount: 10000},
			GroupCompleted: true,
		},
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	_, err := svc.RecordContribution(context.Background(), uuid.New(), uuid.New(), domain.RecordContributionPayload{
		Amount:         5000,
		IdempotencyKey: "key-last-turn",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	got := producer.routingKeys()
	if len(got) != 3 || got[2] != domain.EventGroupCompleted {
		t.Fatalf("expected the rotation to finish with group.completed, got %v", got)
	}
	lifecycle, ok := producer.published[2].body.(domain.GroupLifecycleEvent)
	if !ok {
		t.Fatalf("expected a lifecycle event body, got %T", producer.published[2].body)
	}
	if lifecycle.Status != domain.GroupStatusCompleted {
		t.Fatalf("expected completed status in lifecycle event, got %q", lifecycle.Status)
	}
}
