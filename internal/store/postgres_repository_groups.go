/**
 * @description
 * This file provides the PostgreSQL implementation of group, membership and
 * invitation data access. Admission control (invitation acceptance, open
 * joins) runs inside one transaction with the group row locked, so capacity
 * can never be oversubscribed by concurrent joins: the capacity re-check at
 * accept time happens under the same lock as the member insert.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adashe/tontine-service/internal/domain"
)

// CreateGroup inserts a draft group and its organizer member row atomically.
// The organizer is always a member with role=organizer.
func (r *PostgresRepository) CreateGroup(ctx context.Context, group *domain.Group) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	groupQuery := `
		INSERT INTO groups (id, name, organizer_user_id, contribution_amount, currency, cadence, capacity, visibility, status, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, groupQuery,
		group.ID, group.Name, group.OrganizerUserID, group.ContributionAmount,
		group.Currency, group.Cadence, group.Capacity, group.Visibility,
		group.Status, group.ImageURL,
	).Scan(&group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return err
	}

	memberQuery := `
		INSERT INTO members (id, group_id, user_id, role, status)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = tx.Exec(ctx, memberQuery, uuid.New(), group.ID, group.OrganizerUserID, domain.RoleOrganizer, domain.MemberStatusActive)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanGroup(row pgx.Row, group *domain.Group) error {
	return row.Scan(
		&group.ID, &group.Name, &group.OrganizerUserID, &group.ContributionAmount,
		&group.Currency, &group.Cadence, &group.Capacity, &group.Visibility,
		&group.Status, &group.ImageURL, &group.CancelReason, &group.CancelledAt,
		&group.CreatedAt, &group.UpdatedAt)
}

const groupColumns = `id, name, organizer_user_id, contribution_amount, currency, cadence, capacity, visibility, status, image_url, cancel_reason, cancelled_at, created_at, updated_at`

// FindGroupByID retrieves a group by its id.
func (r *PostgresRepository) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	var group domain.Group
	err := scanGroup(r.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, groupID), &group)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// ListGroupsForUser returns every group the user holds a member row in,
// newest first.
func (r *PostgresRepository) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error) {
	query := `
		SELECT g.id, g.name, g.organizer_user_id, g.contribution_amount, g.currency, g.cadence,
		       g.capacity, g.visibility, g.status, g.image_url, g.cancel_reason, g.cancelled_at,
		       g.created_at, g.updated_at
		FROM groups g
		JOIN members m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var group domain.Group
		if err := scanGroup(rows, &group); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// GetGroupDetail returns the read-only projection of a group with its
// members and turns.
func (r *PostgresRepository) GetGroupDetail(ctx context.Context, groupID uuid.UUID) (*domain.GroupDetail, error) {
	group, err := r.FindGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members, err := r.listMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	turns, err := r.ListTurnsByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &domain.GroupDetail{Group: *group, Members: members, Turns: turns}, nil
}

const memberColumns = `id, group_id, user_id, role, status, joined_at, total_contributed`

func scanMember(row pgx.Row, member *domain.Member) error {
	return row.Scan(
		&member.ID, &member.GroupID, &member.UserID, &member.Role,
		&member.Status, &member.JoinedAt, &member.TotalContributed)
}

func (r *PostgresRepository) listMembers(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error) {
	// Ordering mirrors the turn rotation: organizer first, then join date,
	// ties broken by member id for determinism.
	query := `
		SELECT ` + memberColumns + `
		FROM members
		WHERE group_id = $1
		ORDER BY (role = 'organizer') DESC, joined_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var member domain.Member
		if err := scanMember(rows, &member); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// FindMemberByID retrieves a member row by its id.
func (r *PostgresRepository) FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error) {
	var member domain.Member
	err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, memberID), &member)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// FindMemberByUserID resolves the member row a user occupies in a group.
func (r *PostgresRepository) FindMemberByUserID(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (*domain.Member, error) {
	var member domain.Member
	query := `SELECT ` + memberColumns + ` FROM members WHERE group_id = $1 AND user_id = $2`
	err := scanMember(r.db.QueryRow(ctx, query, groupID, userID), &member)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// CountActiveMembers counts a group's active members.
func (r *PostgresRepository) CountActiveMembers(ctx context.Context, groupID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE group_id = $1 AND status = 'active'`, groupID).Scan(&count)
	return count, err
}

// HasMemberWithContact reports whether an invitation contact already maps to
// an active member, via the invitation that admitted them. Contact matching
// is a one-time admission aid, never a runtime member lookup.
func (r *PostgresRepository) HasMemberWithContact(ctx context.Context, groupID uuid.UUID, contact string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM invitations i
			JOIN members m ON m.group_id = i.group_id AND m.user_id = i.accepted_by
			WHERE i.group_id = $1
			  AND lower(btrim(i.contact)) = lower(btrim($2))
			  AND i.status = 'accepted'
			  AND m.status = 'active'
		)
	`
	err := r.db.QueryRow(ctx, query, groupID, contact).Scan(&exists)
	return exists, err
}

// CreateInvitation inserts a pending invitation with its single-use code.
func (r *PostgresRepository) CreateInvitation(ctx context.Context, invitation *domain.Invitation) error {
	query := `
		INSERT INTO invitations (id, group_id, inviter_id, contact, code, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		invitation.ID, invitation.GroupID, invitation.InviterID, invitation.Contact,
		invitation.Code, invitation.Status, invitation.ExpiresAt,
	).Scan(&invitation.CreatedAt)
}

const invitationColumns = `id, group_id, inviter_id, contact, code, status, expires_at, accepted_by, created_at, responded_at`

func scanInvitation(row pgx.Row, inv *domain.Invitation) error {
	return row.Scan(
		&inv.ID, &inv.GroupID, &inv.InviterID, &inv.Contact, &inv.Code,
		&inv.Status, &inv.ExpiresAt, &inv.AcceptedBy, &inv.CreatedAt, &inv.RespondedAt)
}

// AcceptInvitation atomically consumes an invitation and creates the member
// row. The invitation flip and the member insert commit together, so an
// accepted-but-memberless state cannot exist. Capacity is re-checked here
// under the group row lock, not just at invite time.
func (r *PostgresRepository) AcceptInvitation(ctx context.Context, code string, userID uuid.UUID) (*domain.Member, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var inv domain.Invitation
	err = scanInvitation(tx.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE code = $1 FOR UPDATE`, code), &inv)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}

	switch inv.Status {
	case domain.InvitationStatusPending:
		// fallthrough to expiry check
	case domain.InvitationStatusExpired:
		return nil, ErrInvitationExpired
	default:
		return nil, ErrInvitationAlreadyUsed
	}
	if time.Now().After(inv.ExpiresAt) {
		// The lazy expiry flip is best effort; a failed flip rolls back and
		// the invitation stays pending for a later expiry attempt.
		if _, err := tx.Exec(ctx, `UPDATE invitations SET status = 'expired' WHERE id = $1`, inv.ID); err != nil {
			return nil, ErrInvitationExpired
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, commitErr
		}
		return nil, ErrInvitationExpired
	}

	member, err := r.admitMemberTx(ctx, tx, inv.GroupID, userID)
	if err != nil {
		return nil, err
	}

	update := `
		UPDATE invitations
		SET status = 'accepted', accepted_by = $1, responded_at = NOW()
		WHERE id = $2
	`
	if _, err := tx.Exec(ctx, update, userID, inv.ID); err != nil {
		return nil, err
	}

	return member, tx.Commit(ctx)
}

// admitMemberTx inserts a member row after re-validating admission rules
// under the group row lock.
func (r *PostgresRepository) admitMemberTx(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, userID uuid.UUID) (*domain.Member, error) {
	var status string
	var capacity int
	err := tx.QueryRow(ctx, `SELECT status, capacity FROM groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&status, &capacity)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	if status != domain.GroupStatusDraft {
		return nil, ErrInvalidStateTransition
	}

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM members WHERE group_id = $1 AND user_id = $2)`, groupID, userID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyMember
	}

	var activeCount int
	err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE group_id = $1 AND status = 'active'`, groupID).Scan(&activeCount)
	if err != nil {
		return nil, err
	}
	if activeCount >= capacity {
		return nil, ErrCapacityExceeded
	}

	var member domain.Member
	insert := `
		INSERT INTO members (id, group_id, user_id, role, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + memberColumns + `
	`
	err = scanMember(tx.QueryRow(ctx, insert, uuid.New(), groupID, userID, domain.RoleMember, domain.MemberStatusActive), &member)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}
	return &member, nil
}

// DeclineInvitation marks a pending invitation declined.
func (r *PostgresRepository) DeclineInvitation(ctx context.Context, code string, userID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE invitations
		SET status = 'declined', accepted_by = $1, responded_at = NOW()
		WHERE code = $2 AND status = 'pending'
	`, userID, code)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

// JoinOpenGroup is the direct join path for publicly visible groups. Same
// capacity race handling as invitation acceptance.
func (r *PostgresRepository) JoinOpenGroup(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (*domain.Member, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var visibility string
	err = tx.QueryRow(ctx, `SELECT visibility FROM groups WHERE id = $1`, groupID).Scan(&visibility)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	if visibility != domain.VisibilityPublic {
		return nil, ErrGroupNotJoinable
	}

	member, err := r.admitMemberTx(ctx, tx, groupID, userID)
	if err != nil {
		return nil, err
	}
	return member, tx.Commit(ctx)
}

// MarkMemberExcluded flips a member to excluded, recording the reason.
func (r *PostgresRepository) MarkMemberExcluded(ctx context.Context, memberID uuid.UUID, reason string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE members SET status = 'excluded', excluded_reason = $1 WHERE id = $2 AND status = 'active'
	`, reason, memberID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// MarkMemberLeft flips a member to left.
func (r *PostgresRepository) MarkMemberLeft(ctx context.Context, memberID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `UPDATE members SET status = 'left' WHERE id = $1 AND status = 'active'`, memberID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// MemberHasOpenObligation reports whether a member holds a confirmed
// contribution on a turn that has not reached a terminal state. Removal is
// forbidden in that window unless the reason is "default".
func (r *PostgresRepository) MemberHasOpenObligation(ctx context.Context, memberID uuid.UUID) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM contributions c
			JOIN turns t ON t.id = c.turn_id
			WHERE c.member_id = $1
			  AND c.status = 'confirmed'
			  AND t.status NOT IN ('completed', 'cancelled')
		)
	`
	err := r.db.QueryRow(ctx, query, memberID).Scan(&exists)
	return exists, err
}

// TransitionGroupStatus performs a guarded lifecycle transition. The guard is
// the SQL predicate itself: zero rows affected with the group present means
// the transition was illegal.
func (r *PostgresRepository) TransitionGroupStatus(ctx context.Context, groupID uuid.UUID, from, to string, reason *string) error {
	query := `
		UPDATE groups
		SET status = $1,
		    cancel_reason = CASE WHEN $1 = 'cancelled' THEN $2 ELSE cancel_reason END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.Exec(ctx, query, to, reason, groupID, from)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists); checkErr != nil {
			return checkErr
		}
		if !exists {
			return ErrGroupNotFound
		}
		return ErrInvalidStateTransition
	}
	return nil
}
