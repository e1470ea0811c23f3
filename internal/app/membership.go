/**
 * @description
 * This file contains the membership business logic: group creation,
 * invitations, admission (invitation acceptance and open joins), and member
 * removal. Capacity enforcement under concurrency lives in the repository;
 * this layer validates payloads and authorization.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
)

// CreateGroup creates a new group in draft state with the caller as
// organizer.
func (s *Service) CreateGroup(ctx context.Context, organizerUserID uuid.UUID, payload domain.CreateGroupPayload) (*domain.Group, error) {
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrValidation)
	}
	if payload.ContributionAmount <= 0 {
		return nil, fmt.Errorf("%w: contribution amount must be positive", ErrValidation)
	}
	if payload.Capacity < domain.MinGroupCapacity {
		return nil, fmt.Errorf("%w: capacity must be at least %d", ErrValidation, domain.MinGroupCapacity)
	}
	if !domain.ValidCadence(payload.Cadence) {
		return nil, fmt.Errorf("%w: unsupported cadence %q", ErrValidation, payload.Cadence)
	}

	visibility := payload.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	if visibility != domain.VisibilityPrivate && visibility != domain.VisibilityPublic {
		return nil, fmt.Errorf("%w: unsupported visibility %q", ErrValidation, visibility)
	}
	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	group := &domain.Group{
		ID:                 uuid.New(),
		Name:               name,
		OrganizerUserID:    organizerUserID,
		ContributionAmount: payload.ContributionAmount,
		Currency:           currency,
		Cadence:            payload.Cadence,
		Capacity:           payload.Capacity,
		Visibility:         visibility,
		Status:             domain.GroupStatusDraft,
		ImageURL:           payload.ImageURL,
	}
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return group, nil
}

// GetGroupDetail returns a group with its members and turns. Private groups
// are visible to their members only.
func (s *Service) GetGroupDetail(ctx context.Context, callerUserID, groupID uuid.UUID) (*domain.GroupDetail, error) {
	detail, err := s.repo.GetGroupDetail(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if detail.Group.Visibility == domain.VisibilityPrivate {
		if _, err := s.repo.FindMemberByUserID(ctx, groupID, callerUserID); err != nil {
			return nil, ErrNotAuthorized
		}
	}
	return detail, nil
}

// ListGroups returns every group the caller is a member of.
func (s *Service) ListGroups(ctx context.Context, userID uuid.UUID) ([]domain.Group, error) {
	return s.repo.ListGroupsForUser(ctx, userID)
}

// Invite creates a single-use invitation for a contact, only while the group
// is in draft. The organizer can always invite; members of public groups can
// invite too.
func (s *Service) Invite(ctx context.Context, inviterUserID, groupID uuid.UUID, payload domain.InvitePayload) (*domain.Invitation, error) {
	contact := strings.TrimSpace(payload.Contact)
	if contact == "" {
		return nil, fmt.Errorf("%w: invitation contact is required", ErrValidation)
	}

	group, err := s.repo.FindGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.OrganizerUserID != inviterUserID {
		if group.Visibility != domain.VisibilityPublic {
			return nil, ErrNotAuthorized
		}
		if _, err := s.repo.FindMemberByUserID(ctx, groupID, inviterUserID); err != nil {
			return nil, ErrNotAuthorized
		}
	}
	if group.Status != domain.GroupStatusDraft {
		return nil, store.ErrInvalidStateTransition
	}

	alreadyIn, err := s.repo.HasMemberWithContact(ctx, groupID, contact)
	if err != nil {
		return nil, err
	}
	if alreadyIn {
		return nil, store.ErrAlreadyMember
	}

	// Soft pre-check; admission re-validates under the group row lock.
	count, err := s.repo.CountActiveMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if count >= group.Capacity {
		return nil, store.ErrCapacityExceeded
	}

	invitation := &domain.Invitation{
		ID:        uuid.New(),
		GroupID:   groupID,
		InviterID: inviterUserID,
		Contact:   contact,
		Code:      newInvitationCode(),
		Status:    domain.InvitationStatusPending,
		ExpiresAt: time.Now().UTC().Add(s.invitationTTL),
	}
	if err := s.repo.CreateInvitation(ctx, invitation); err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return invitation, nil
}

// AcceptInvitation consumes an invitation code and admits the caller. The
// repository handles expiry, reuse, capacity and duplicate-member races
// atomically.
func (s *Service) AcceptInvitation(ctx context.Context, userID uuid.UUID, code string) (*domain.Member, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: invitation code is required", ErrValidation)
	}
	return s.repo.AcceptInvitation(ctx, code, userID)
}

// DeclineInvitation marks a pending invitation declined.
func (s *Service) DeclineInvitation(ctx context.Context, userID uuid.UUID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: invitation code is required", ErrValidation)
	}
	return s.repo.DeclineInvitation(ctx, code, userID)
}

// JoinGroup is the direct-join path for public groups.
func (s *Service) JoinGroup(ctx context.Context, userID, groupID uuid.UUID) (*domain.Member, error) {
	return s.repo.JoinOpenGroup(ctx, groupID, userID)
}

// RemoveMember lets the organizer remove a member before activation. Once
// the rotation is running, members leave only through the default flow so
// confirmed contributions are never stranded.
func (s *Service) RemoveMember(ctx context.Context, requesterUserID, groupID, memberID uuid.UUID) error {
	group, err := s.repo.FindGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OrganizerUserID != requesterUserID {
		return ErrNotAuthorized
	}
	if group.Status != domain.GroupStatusDraft {
		return store.ErrInvalidStateTransition
	}

	member, err := s.repo.FindMemberByID(ctx, memberID)
	if err != nil {
		return err
	}
	if member.GroupID != groupID {
		return store.ErrMemberNotFound
	}
	if member.Role == domain.RoleOrganizer {
		return fmt.Errorf("%w: the organizer cannot be removed", ErrValidation)
	}

	hasObligation, err := s.repo.MemberHasOpenObligation(ctx, memberID)
	if err != nil {
		return err
	}
	if hasObligation {
		return store.ErrObligationOutstanding
	}
	return s.repo.MarkMemberExcluded(ctx, memberID, "removed")
}

// LeaveGroup lets a member leave a draft group. The organizer cannot leave
// their own group; they cancel it instead.
func (s *Service) LeaveGroup(ctx context.Context, userID, groupID uuid.UUID) error {
	group, err := s.repo.FindGroupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Status != domain.GroupStatusDraft {
		return store.ErrInvalidStateTransition
	}

	member, err := s.repo.FindMemberByUserID(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if member.Role == domain.RoleOrganizer {
		// The organizer's exit is cancellation, not leave.
		return ErrNotAuthorized
	}
	return s.repo.MarkMemberLeft(ctx, member.ID)
}

// newInvitationCode generates a single-use, URL-safe invitation code.
func newInvitationCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
