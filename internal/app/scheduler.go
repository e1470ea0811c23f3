/**
 * @description
 * This file contains the contribution recording flow against the open turn.
 * The heavy lifting is one atomic repository call; this layer resolves the
 * caller's member row, validates the payload, and publishes the events the
 * confirmation cascade produced (contribution recorded, payout issued, next
 * turn opened, group completed).
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
)

// RecordContribution records the caller's payment for a group's open turn.
// A replayed idempotency key returns the original outcome without re-debiting.
func (s *Service) RecordContribution(ctx context.Context, userID, groupID uuid.UUID, payload domain.RecordContributionPayload) (*domain.ContributionOutcome, error) {
	if payload.Amount <= 0 {
		return nil, fmt.Errorf("%w: contribution amount must be positive", ErrValidation)
	}
	if payload.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	method := payload.Method
	if method == "" {
		method = "wallet"
	}

	member, err := s.repo.FindMemberByUserID(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	turn, err := s.repo.FindOpenTurn(ctx, groupID)
	if err != nil {
		if err == store.ErrTurnNotFound {
			return nil, store.ErrTurnNotOpen
		}
		return nil, err
	}

	outcome, err := s.repo.ConfirmContribution(ctx, store.ConfirmContributionParams{
		TurnID:         turn.ID,
		MemberID:       member.ID,
		Amount:         payload.Amount,
		Method:         method,
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if outcome.Duplicate {
		return outcome, nil
	}

	now := time.Now().UTC()
	s.publish(ctx, domain.EventContributionRecorded, domain.ContributionRecordedEvent{
		GroupID:        groupID,
		TurnID:         turn.ID,
		ContributionID: outcome.Contribution.ID,
		MemberID:       member.ID,
		Amount:         outcome.Contribution.Amount,
		Timestamp:      now,
	})
	if outcome.TurnCompleted && outcome.PayoutEntry != nil {
		s.publish(ctx, domain.EventPayoutIssued, domain.PayoutIssuedEvent{
			GroupID:             groupID,
			TurnID:              turn.ID,
			BeneficiaryMemberID: turn.BeneficiaryMemberID,
			Amount:              outcome.PayoutEntry.Amount,
			Timestamp:           now,
		})
	}
	if outcome.NextTurn != nil {
		s.publish(ctx, domain.EventTurnOpened, domain.TurnOpenedEvent{
			GroupID:             groupID,
			TurnID:              outcome.NextTurn.ID,
			Sequence:            outcome.NextTurn.Sequence,
			BeneficiaryMemberID: outcome.NextTurn.BeneficiaryMemberID,
			PotAmount:           outcome.NextTurn.PotAmount,
			Timestamp:           now,
		})
	}
	if outcome.GroupCompleted {
		s.publish(ctx, domain.EventGroupCompleted, domain.GroupLifecycleEvent{
			GroupID:   groupID,
			Status:    domain.GroupStatusCompleted,
			Timestamp: now,
		})
	}
	return outcome, nil
}

// GetOpenTurn returns a group's currently open turn with its contribution
// checklist.
func (s *Service) GetOpenTurn(ctx context.Context, groupID uuid.UUID) (*domain.Turn, []domain.Contribution, error) {
	turn, err := s.repo.FindOpenTurn(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	contributions, err := s.repo.ListContributionsByTurn(ctx, turn.ID)
	if err != nil {
		return nil, nil, err
	}
	return turn, contributions, nil
}

// ListTurns returns a group's full rotation schedule.
func (s *Service) ListTurns(ctx context.Context, groupID uuid.UUID) ([]domain.Turn, error) {
	return s.repo.ListTurnsByGroup(ctx, groupID)
}
