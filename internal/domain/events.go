/**
 * @description
 * This file defines the domain-event payloads the core emits for the
 * notification dispatcher and any other interested consumer. Delivery and
 * templating are the dispatcher's concern; the core only publishes ids and
 * amounts.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventsExchange is the durable topic exchange all domain events are
// published to.
const EventsExchange = "tontine.events"

// Routing keys for domain events.
const (
	EventTurnOpened           = "turn.opened"
	EventContributionRecorded = "contribution.recorded"
	EventPayoutIssued         = "payout.issued"
	EventGroupActivated       = "group.activated"
	EventGroupCompleted       = "group.completed"
	EventGroupCancelled       = "group.cancelled"
	EventMemberDefaulted      = "member.defaulted"
)

// TurnOpenedEvent is published when a turn transitions pending→open.
type TurnOpenedEvent struct {
	GroupID             uuid.UUID `json:"group_id"`
	TurnID              uuid.UUID `json:"turn_id"`
	Sequence            int       `json:"sequence"`
	BeneficiaryMemberID uuid.UUID `json:"beneficiary_member_id"`
	PotAmount           int64     `json:"pot_amount"`
	Timestamp           time.Time `json:"timestamp"`
}

// ContributionRecordedEvent is published when a contribution is confirmed.
type ContributionRecordedEvent struct {
	GroupID        uuid.UUID `json:"group_id"`
	TurnID         uuid.UUID `json:"turn_id"`
	ContributionID uuid.UUID `json:"contribution_id"`
	MemberID       uuid.UUID `json:"member_id"`
	Amount         int64     `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// PayoutIssuedEvent is published when a turn's pot is credited to its
// beneficiary.
type PayoutIssuedEvent struct {
	GroupID             uuid.UUID `json:"group_id"`
	TurnID              uuid.UUID `json:"turn_id"`
	BeneficiaryMemberID uuid.UUID `json:"beneficiary_member_id"`
	Amount              int64     `json:"amount"`
	Timestamp           time.Time `json:"timestamp"`
}

// GroupLifecycleEvent is published on group activation, completion and
// cancellation.
type GroupLifecycleEvent struct {
	GroupID   uuid.UUID `json:"group_id"`
	Status    string    `json:"status"`
	Reason    *string   `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MemberDefaultedEvent is published when the default handler excludes a
// member for non-payment.
type MemberDefaultedEvent struct {
	GroupID       uuid.UUID `json:"group_id"`
	TurnID        uuid.UUID `json:"turn_id"`
	MemberID      uuid.UUID `json:"member_id"`
	ReportedBy    uuid.UUID `json:"reported_by"`
	RefundsQueued int       `json:"refunds_queued"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChargeStatusEvent is the payload the payment gateway delivers (via queue or
// webhook) when a card charge settles or fails. IntentID doubles as the
// idempotency key for the resulting wallet credit.
type ChargeStatusEvent struct {
	IntentID string    `json:"intent_id"`
	PayerRef string    `json:"payer_ref"` // opaque user id from the identity provider
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	Status   string    `json:"status"` // 'confirmed' or 'failed'
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}
