/**
 * @description
 * This file defines the wallet subsystem models: per-user wallet accounts and
 * the append-only double-entry journal behind them. Every money movement in
 * the system passes through these types.
 *
 * @notes
 * - The core reconciliation invariant: a wallet's cached balance always equals
 *   the signed sum of its ledger entries.
 * - Ledger entries are immutable once written. Corrections are made by new
 *   offsetting entries, never by mutation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry directions.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// Ledger entry categories.
const (
	CategoryDeposit      = "deposit"
	CategoryWithdrawal   = "withdrawal"
	CategoryContribution = "contribution"
	CategoryPayout       = "payout"
	CategoryCommission   = "commission"
	CategorySubscription = "subscription"
	CategoryPenalty      = "penalty"
	CategoryRefund       = "refund"
	CategoryTransferIn   = "transfer_in"
	CategoryTransferOut  = "transfer_out"
)

// WalletAccount is a user's internal wallet. Created lazily on first use and
// never deleted while a non-zero balance or pending obligation exists.
type WalletAccount struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"` // minor units
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is one immutable, categorized debit or credit against a wallet
// account. CorrelationID links the entry to the contribution, turn or
// transfer that caused it. The idempotency key is unique across the journal
// so a retried mutation can never append twice.
type LedgerEntry struct {
	ID             uuid.UUID `json:"id"`
	AccountID      uuid.UUID `json:"account_id"`
	Direction      string    `json:"direction"`
	Amount         int64     `json:"amount"`
	Category       string    `json:"category"`
	CorrelationID  string    `json:"correlation_id"`
	IdempotencyKey string    `json:"-"`
	BalanceAfter   int64     `json:"balance_after"`
	CreatedAt      time.Time `json:"created_at"`
}

// SignedAmount returns the entry amount with its direction applied: credits
// are positive, debits negative.
func (e LedgerEntry) SignedAmount() int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

// LedgerEntryFilter controls the ledger listing projection.
type LedgerEntryFilter struct {
	Category string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// FinancialSummary is the per-account aggregate served to the UI layer.
// Derived from the journal, never the source of truth.
type FinancialSummary struct {
	AccountID     uuid.UUID        `json:"account_id"`
	Balance       int64            `json:"balance"`
	TotalCredited int64            `json:"total_credited"`
	TotalDebited  int64            `json:"total_debited"`
	ByCategory    map[string]int64 `json:"by_category"` // signed sums
	EntryCount    int64            `json:"entry_count"`
}

// ReconciliationResult reports whether a wallet's cached balance matches the
// signed sum of its journal.
type ReconciliationResult struct {
	AccountID      uuid.UUID `json:"account_id"`
	CachedBalance  int64     `json:"cached_balance"`
	JournalBalance int64     `json:"journal_balance"`
	Consistent     bool      `json:"consistent"`
}

// Refund job statuses for the durable refund work queue (outbox).
const (
	RefundJobStatusQueued     = "queued"
	RefundJobStatusProcessing = "processing"
	RefundJobStatusCompleted  = "completed"
	RefundJobStatusEscalated  = "escalated"
)

// RefundJob is one queued refund produced by the default/cancellation
// cascade. Keyed by the original contribution so a retried job can never
// refund twice.
type RefundJob struct {
	ID             uuid.UUID  `json:"id"`
	GroupID        uuid.UUID  `json:"group_id"`
	TurnID         uuid.UUID  `json:"turn_id"`
	ContributionID uuid.UUID  `json:"contribution_id"`
	AccountID      uuid.UUID  `json:"account_id"`
	Amount         int64      `json:"amount"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
