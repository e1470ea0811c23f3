/**
 * @description
 * This file defines the rotation-cycle domain models: turns and the
 * contribution obligations attached to them. One turn is open per group at a
 * time; it completes when every required contribution is confirmed, at which
 * point the pot is paid out to the turn's beneficiary.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Turn statuses. Turns are created in batch as `pending` when a group
// activates and transition pending→open strictly in sequence order.
const (
	TurnStatusPending   = "pending"
	TurnStatusOpen      = "open"
	TurnStatusCompleted = "completed"
	TurnStatusCancelled = "cancelled"
)

// Turn is one rotation cycle. Exactly one beneficiary receives the pot.
type Turn struct {
	ID                  uuid.UUID  `json:"id"`
	GroupID             uuid.UUID  `json:"group_id"`
	Sequence            int        `json:"sequence"`
	BeneficiaryMemberID uuid.UUID  `json:"beneficiary_member_id"`
	ScheduledAt         time.Time  `json:"scheduled_at"`
	Status              string     `json:"status"`
	PotAmount           int64      `json:"pot_amount"` // fixed when the turn opens
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Contribution statuses. At most one confirmed contribution exists per
// (turn, member) pair; `reversed` marks a confirmed contribution that was
// refunded by the default cascade.
const (
	ContributionStatusPending   = "pending"
	ContributionStatusConfirmed = "confirmed"
	ContributionStatusFailed    = "failed"
	ContributionStatusReversed  = "reversed"
)

// Contribution is one member's payment obligation for an open turn.
type Contribution struct {
	ID             uuid.UUID  `json:"id"`
	TurnID         uuid.UUID  `json:"turn_id"`
	MemberID       uuid.UUID  `json:"member_id"`
	Amount         int64      `json:"amount"`
	Method         string     `json:"method"` // e.g. 'wallet', 'card'
	Status         string     `json:"status"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	IdempotencyKey *string    `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RecordContributionPayload is the DTO for submitting a contribution payment.
type RecordContributionPayload struct {
	Amount         int64  `json:"amount"`
	Method         string `json:"method"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ContributionOutcome summarizes the cascade a confirmed contribution may
// trigger: turn completion, payout, the next turn opening, group completion.
type ContributionOutcome struct {
	Contribution   *Contribution `json:"contribution"`
	DebitEntry     *LedgerEntry  `json:"debit_entry,omitempty"`
	Duplicate      bool          `json:"duplicate"`
	TurnCompleted  bool          `json:"turn_completed"`
	PayoutEntry    *LedgerEntry  `json:"payout_entry,omitempty"`
	NextTurn       *Turn         `json:"next_turn,omitempty"`
	GroupCompleted bool          `json:"group_completed"`
}

// PotAmount computes the pot distributed to a turn's beneficiary:
// contribution × (active members − 1). The beneficiary never pays into
// their own turn.
func PotAmount(contribution int64, activeMembers int) int64 {
	if activeMembers <= 1 {
		return 0
	}
	return contribution * int64(activeMembers-1)
}
