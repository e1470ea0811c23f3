/**
 * @description
 * This file contains the group lifecycle logic: activation (draft→active,
 * which materializes the turn rotation) and cancellation, including the
 * defaulter-driven cancellation cascade that excludes the defaulter,
 * enqueues refunds for everyone who already paid, and shuts the group down.
 */

package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
)

// ActivateGroup transitions a draft group to active, creates the full turn
// sequence and opens the first turn. Organizer only.
func (s *Service) ActivateGroup(ctx context.Context, requesterUserID, groupID uuid.UUID) (*store.ActivationResult, error) {
	group, err := s.repo.FindGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.OrganizerUserID != requesterUserID {
		return nil, ErrNotAuthorized
	}

	result, err := s.repo.ActivateGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s.publish(ctx, domain.EventGroupActivated, domain.GroupLifecycleEvent{
		GroupID:   groupID,
		Status:    domain.GroupStatusActive,
		Timestamp: now,
	})
	if result.OpenedTurn != nil {
		s.publish(ctx, domain.EventTurnOpened, domain.TurnOpenedEvent{
			GroupID:             groupID,
			TurnID:              result.OpenedTurn.ID,
			Sequence:            result.OpenedTurn.Sequence,
			BeneficiaryMemberID: result.OpenedTurn.BeneficiaryMemberID,
			PotAmount:           result.OpenedTurn.PotAmount,
			Timestamp:           now,
		})
	}
	return result, nil
}

// CancelGroup cancels a group. A draft group is flipped directly; an active
// one goes through the full cascade so confirmed contributions on the open
// turn are refunded. Organizer only.
func (s *Service) CancelGroup(ctx context.Context, requesterUserID, groupID uuid.UUID, reason string) (*store.CancelCascadeResult, error) {
	group, err := s.repo.FindGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.OrganizerUserID != requesterUserID {
		return nil, ErrNotAuthorized
	}
	if reason == "" {
		reason = "cancelled by organizer"
	}

	if group.Status == domain.GroupStatusDraft {
		if err := s.repo.TransitionGroupStatus(ctx, groupID, domain.GroupStatusDraft, domain.GroupStatusCancelled, &reason); err != nil {
			return nil, err
		}
		group.Status = domain.GroupStatusCancelled
		group.CancelReason = &reason
		s.publish(ctx, domain.EventGroupCancelled, domain.GroupLifecycleEvent{
			GroupID:   groupID,
			Status:    domain.GroupStatusCancelled,
			Reason:    &reason,
			Timestamp: time.Now().UTC(),
		})
		return &store.CancelCascadeResult{Group: group}, nil
	}

	result, err := s.repo.CancelGroupCascade(ctx, store.CancelCascadeParams{
		GroupID: groupID,
		Reason:  reason,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventGroupCancelled, domain.GroupLifecycleEvent{
		GroupID:   groupID,
		Status:    domain.GroupStatusCancelled,
		Reason:    &reason,
		Timestamp: time.Now().UTC(),
	})
	return result, nil
}

// ReportDefault handles a member who failed to pay into the open turn: the
// reporting member must belong to the group, the defaulter must actually
// hold a pending obligation, and the whole group is then cancelled with
// refunds queued for everyone who already paid. The defaulter's own confirmed
// contributions from earlier turns are refunded too; only the open turn's
// pending obligation is forfeit.
func (s *Service) ReportDefault(ctx context.Context, reporterUserID, groupID, defaulterMemberID uuid.UUID, reason string) (*store.CancelCascadeResult, error) {
	if _, err := s.repo.FindMemberByUserID(ctx, groupID, reporterUserID); err != nil {
		return nil, ErrNotAuthorized
	}
	if reason == "" {
		reason = "default:" + defaulterMemberID.String()
	}

	result, err := s.repo.CancelGroupCascade(ctx, store.CancelCascadeParams{
		GroupID:           groupID,
		Reason:            reason,
		DefaulterMemberID: &defaulterMemberID,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if result.OpenTurnID != nil {
		s.publish(ctx, domain.EventMemberDefaulted, domain.MemberDefaultedEvent{
			GroupID:       groupID,
			TurnID:        *result.OpenTurnID,
			MemberID:      defaulterMemberID,
			ReportedBy:    reporterUserID,
			RefundsQueued: len(result.RefundJobs),
			Timestamp:     now,
		})
	}
	s.publish(ctx, domain.EventGroupCancelled, domain.GroupLifecycleEvent{
		GroupID:   groupID,
		Status:    domain.GroupStatusCancelled,
		Reason:    &reason,
		Timestamp: now,
	})
	return result, nil
}

// PendingRefunds reports how many refunds from a cancelled group are still
// waiting in the outbox. Members poll this after a cancellation to see
// whether everyone's money is back; zero means the dispatcher has drained
// the group's queue. Group members only.
func (s *Service) PendingRefunds(ctx context.Context, requesterUserID, groupID uuid.UUID) (int, error) {
	if _, err := s.repo.FindMemberByUserID(ctx, groupID, requesterUserID); err != nil {
		return 0, ErrNotAuthorized
	}
	return s.repo.CountPendingRefundJobs(ctx, groupID)
}
