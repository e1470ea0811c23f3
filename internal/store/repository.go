/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the tontine core. By defining an
 * interface, we decouple the business logic from the PostgreSQL implementation
 * and make the application service testable with stubs.
 *
 * Operations that both read and conditionally write shared state (ledger
 * mutations, contribution confirmation, the cancellation cascade) are exposed
 * as single atomic methods so the implementation can run them under one
 * database transaction with row-level locks.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
)

// LedgerMutationParams describes one idempotent credit or debit against a
// user's wallet. A repeated call with the same idempotency key and the same
// logical operation returns the original entry; a key reuse with a different
// payload fails with ErrDuplicateOperation.
type LedgerMutationParams struct {
	UserID         uuid.UUID
	Amount         int64
	Category       string
	CorrelationID  string
	IdempotencyKey string
	Currency       string // used when the wallet is created lazily
}

// TransferParams describes an all-or-nothing movement between two wallets.
type TransferParams struct {
	FromUserID     uuid.UUID
	ToUserID       uuid.UUID
	Amount         int64
	CorrelationID  string
	IdempotencyKey string
	Currency       string
}

// ConfirmContributionParams identifies the obligation being paid and the
// caller-supplied idempotency key covering the debit.
type ConfirmContributionParams struct {
	TurnID         uuid.UUID
	MemberID       uuid.UUID
	Amount         int64
	Method         string
	IdempotencyKey string
}

// CancelCascadeParams drives the shared cancellation path used by both the
// default handler and organizer-initiated cancellation of an active group.
// When DefaulterMemberID is set, that member is excluded (reason "default")
// and must hold a pending contribution on the open turn.
type CancelCascadeParams struct {
	GroupID           uuid.UUID
	Reason            string
	DefaulterMemberID *uuid.UUID
}

// CancelCascadeResult reports what the cascade did: who was excluded, which
// turns were cancelled, and the refund jobs enqueued for later dispatch.
type CancelCascadeResult struct {
	Group          *domain.Group
	ExcludedMember *domain.Member
	OpenTurnID     *uuid.UUID
	CancelledTurns int
	RefundJobs     []domain.RefundJob
}

// ActivationResult is what turn materialization produces: the full ordered
// turn sequence and the first turn, already opened with its contribution set.
type ActivationResult struct {
	Group      *domain.Group
	Turns      []domain.Turn
	OpenedTurn *domain.Turn
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Wallet and ledger methods
	FindOrCreateAccountByUserID(ctx context.Context, userID uuid.UUID, currency string) (*domain.WalletAccount, error)
	FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.WalletAccount, error)
	CreditAccount(ctx context.Context, params LedgerMutationParams) (*domain.LedgerEntry, error)
	DebitAccount(ctx context.Context, params LedgerMutationParams) (*domain.LedgerEntry, error)
	TransferBetweenAccounts(ctx context.Context, params TransferParams) (*domain.LedgerEntry, *domain.LedgerEntry, error)
	ReconcileAccount(ctx context.Context, accountID uuid.UUID) (*domain.ReconciliationResult, error)
	ListLedgerEntries(ctx context.Context, accountID uuid.UUID, filter domain.LedgerEntryFilter) ([]domain.LedgerEntry, error)
	GetFinancialSummary(ctx context.Context, accountID uuid.UUID) (*domain.FinancialSummary, error)

	// Group and membership methods
	CreateGroup(ctx context.Context, group *domain.Group) error
	FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
	ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Group, error)
	GetGroupDetail(ctx context.Context, groupID uuid.UUID) (*domain.GroupDetail, error)
	FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error)
	FindMemberByUserID(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (*domain.Member, error)
	CountActiveMembers(ctx context.Context, groupID uuid.UUID) (int, error)
	HasMemberWithContact(ctx context.Context, groupID uuid.UUID, contact string) (bool, error)
	CreateInvitation(ctx context.Context, invitation *domain.Invitation) error
	AcceptInvitation(ctx context.Context, code string, userID uuid.UUID) (*domain.Member, error)
	DeclineInvitation(ctx context.Context, code string, userID uuid.UUID) error
	JoinOpenGroup(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (*domain.Member, error)
	MarkMemberExcluded(ctx context.Context, memberID uuid.UUID, reason string) error
	MarkMemberLeft(ctx context.Context, memberID uuid.UUID) error
	MemberHasOpenObligation(ctx context.Context, memberID uuid.UUID) (bool, error)

	// Group lifecycle methods
	TransitionGroupStatus(ctx context.Context, groupID uuid.UUID, from, to string, reason *string) error
	ActivateGroup(ctx context.Context, groupID uuid.UUID) (*ActivationResult, error)

	// Turn and contribution methods
	FindOpenTurn(ctx context.Context, groupID uuid.UUID) (*domain.Turn, error)
	ListTurnsByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Turn, error)
	ListContributionsByTurn(ctx context.Context, turnID uuid.UUID) ([]domain.Contribution, error)
	ConfirmContribution(ctx context.Context, params ConfirmContributionParams) (*domain.ContributionOutcome, error)
	CancelGroupCascade(ctx context.Context, params CancelCascadeParams) (*CancelCascadeResult, error)

	// Refund outbox methods
	ClaimRefundJobs(ctx context.Context, batchSize int, staleAfterSeconds int) ([]domain.RefundJob, error)
	IssueRefund(ctx context.Context, job domain.RefundJob) (*domain.LedgerEntry, error)
	FailRefundJob(ctx context.Context, jobID uuid.UUID, retryAfterSeconds int, maxAttempts int, lastError string) (bool, error)
	CountPendingRefundJobs(ctx context.Context, groupID uuid.UUID) (int, error)
}
