/**
 * @description
 * This file defines the domain models for rotating-savings groups (tontines),
 * their members, and the invitation admission flow. These structs map directly
 * to the `groups`, `members`, and `invitations` tables.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit to avoid
 *   floating-point inaccuracies with financial data.
 * - Members are addressed exclusively by their member row UUID. Invitation
 *   contact strings are matched once at accept time and never used as a
 *   runtime lookup key.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Group lifecycle states. The only legal transitions are
// draft→active, draft→cancelled, active→completed and active→cancelled.
const (
	GroupStatusDraft     = "draft"
	GroupStatusActive    = "active"
	GroupStatusCompleted = "completed"
	GroupStatusCancelled = "cancelled"
)

// Contribution cadences supported by the scheduler.
const (
	CadenceWeekly   = "weekly"
	CadenceBiweekly = "biweekly"
	CadenceMonthly  = "monthly"
)

// Group visibility.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// MinGroupCapacity is the smallest group that can rotate: two members.
const MinGroupCapacity = 2

// Group represents one rotating savings circle.
// Capacity is immutable once any turn has started; contribution amount and
// cadence are immutable once the group is active.
type Group struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	OrganizerUserID    uuid.UUID  `json:"organizer_user_id"`
	ContributionAmount int64      `json:"contribution_amount"` // minor units
	Currency           string     `json:"currency"`
	Cadence            string     `json:"cadence"`
	Capacity           int        `json:"capacity"`
	Visibility         string     `json:"visibility"`
	Status             string     `json:"status"`
	ImageURL           *string    `json:"image_url,omitempty"` // object-storage reference only
	CancelReason       *string    `json:"cancel_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Member roles and statuses.
const (
	RoleOrganizer = "organizer"
	RoleMember    = "member"

	MemberStatusActive   = "active"
	MemberStatusExcluded = "excluded"
	MemberStatusLeft     = "left"
)

// Member is one user's seat in a group. A user occupies at most one member
// row per group; the organizer is always a member with role=organizer.
type Member struct {
	ID               uuid.UUID `json:"id"`
	GroupID          uuid.UUID `json:"group_id"`
	UserID           uuid.UUID `json:"user_id"`
	Role             string    `json:"role"`
	Status           string    `json:"status"`
	JoinedAt         time.Time `json:"joined_at"`
	TotalContributed int64     `json:"total_contributed"`
}

// Invitation statuses.
const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusDeclined = "declined"
	InvitationStatusExpired  = "expired"
)

// Invitation is a single-use admission ticket into a group. Acceptance must
// atomically create the member row only if the group still has free capacity.
type Invitation struct {
	ID           uuid.UUID  `json:"id"`
	GroupID      uuid.UUID  `json:"group_id"`
	InviterID    uuid.UUID  `json:"inviter_id"`
	Contact      string     `json:"contact"` // email or phone of the invitee
	Code         string     `json:"code"`
	Status       string     `json:"status"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AcceptedBy   *uuid.UUID `json:"accepted_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	RespondedAt  *time.Time `json:"responded_at,omitempty"`
}

// CreateGroupPayload is the DTO for creating a new group in draft state.
type CreateGroupPayload struct {
	Name               string  `json:"name"`
	ContributionAmount int64   `json:"contribution_amount"`
	Currency           string  `json:"currency"`
	Cadence            string  `json:"cadence"`
	Capacity           int     `json:"capacity"`
	Visibility         string  `json:"visibility"`
	ImageURL           *string `json:"image_url,omitempty"`
}

// InvitePayload is the DTO for inviting a contact into a group.
type InvitePayload struct {
	Contact string `json:"contact"`
}

// GroupDetail is the read-only projection consumed by the UI layer.
type GroupDetail struct {
	Group   Group    `json:"group"`
	Members []Member `json:"members"`
	Turns   []Turn   `json:"turns"`
}

// AddCadence returns the scheduled date that is `cycles` rotation cycles
// after `from` for the given cadence.
func AddCadence(from time.Time, cadence string, cycles int) time.Time {
	switch cadence {
	case CadenceWeekly:
		return from.AddDate(0, 0, 7*cycles)
	case CadenceBiweekly:
		return from.AddDate(0, 0, 14*cycles)
	case CadenceMonthly:
		return from.AddDate(0, cycles, 0)
	default:
		return from.AddDate(0, cycles, 0)
	}
}

// ValidCadence reports whether a cadence string is one the scheduler supports.
func ValidCadence(cadence string) bool {
	switch cadence {
	case CadenceWeekly, CadenceBiweekly, CadenceMonthly:
		return true
	}
	return false
}
