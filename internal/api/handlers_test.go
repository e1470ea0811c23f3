package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/app"
	"github.com/adashe/tontine-service/internal/store"
)

func TestWriteServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: fmt.Errorf("%w: amount must be positive", app.ErrValidation), want: http.StatusBadRequest},
		{name: "not authorized", err: app.ErrNotAuthorized, want: http.StatusForbidden},
		{name: "insufficient funds", err: store.ErrInsufficientFunds, want: http.StatusPaymentRequired},
		{name: "group not found", err: store.ErrGroupNotFound, want: http.StatusNotFound},
		{name: "member not found", err: store.ErrMemberNotFound, want: http.StatusNotFound},
		{name: "turn not found", err: store.ErrTurnNotFound, want: http.StatusNotFound},
		{name: "invitation expired", err: store.ErrInvitationExpired, want: http.StatusGone},
		{name: "capacity exceeded", err: store.ErrCapacityExceeded, want: http.StatusConflict},
		{name: "already a member", err: store.ErrAlreadyMember, want: http.StatusConflict},
		{name: "invitation reused", err: store.ErrInvitationAlreadyUsed, want: http.StatusConflict},
		{name: "invalid transition", err: store.ErrInvalidStateTransition, want: http.StatusConflict},
		{name: "turn not open", err: store.ErrTurnNotOpen, want: http.StatusConflict},
		{name: "no obligation", err: store.ErrNoObligation, want: http.StatusConflict},
		{name: "obligation outstanding", err: store.ErrObligationOutstanding, want: http.StatusConflict},
		{name: "duplicate operation", err: store.ErrDuplicateOperation, want: http.StatusConflict},
		{name: "not enough members", err: store.ErrNotEnoughMembers, want: http.StatusUnprocessableEntity},
		{name: "amount mismatch", err: store.ErrAmountMismatch, want: http.StatusUnprocessableEntity},
		{name: "unknown", err: fmt.Errorf("connection refused"), want: http.StatusInternalServerError},
	}

	h := NewHandlers(nil, nil, nil, 0, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, "test_endpoint", tt.err)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestEnforceRateLimit_FailsOpenWithoutLimiter(t *testing.T) {
	h := NewHandlers(nil, nil, nil, 0, 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/groups/any/contributions", nil)
	if !h.enforceRateLimit(rec, req, "contribution", uuid.Nil, 30) {
		t.Fatal("expected the request to pass when no limiter is configured")
	}
	if rec.Code == http.StatusTooManyRequests {
		t.Fatal("did not expect a 429 without a limiter")
	}
}
