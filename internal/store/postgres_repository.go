/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface for the wallet subsystem: lazily created wallet accounts, the
 * append-only double-entry journal, idempotent credit/debit/transfer
 * mutations, reconciliation, and the read-only ledger projections.
 *
 * Every mutation runs inside one database transaction with the affected
 * wallet row locked via `SELECT ... FOR UPDATE`, so the overdraft check and
 * the balance update can never be evaluated against a stale balance. A unique
 * index on ledger_entries.idempotency_key backstops replays that race past
 * the in-transaction key lookup.
 *
 * @dependencies
 * - context, errors, fmt, strings, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adashe/tontine-service/internal/domain"
)

var (
	ErrAccountNotFound        = errors.New("wallet account not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrDuplicateOperation     = errors.New("idempotency key reused with a different operation")
	ErrGroupNotFound          = errors.New("group not found")
	ErrMemberNotFound         = errors.New("member not found")
	ErrInvitationNotFound     = errors.New("invitation not found")
	ErrInvitationExpired      = errors.New("invitation has expired")
	ErrInvitationAlreadyUsed  = errors.New("invitation has already been used")
	ErrCapacityExceeded       = errors.New("group is at capacity")
	ErrAlreadyMember          = errors.New("user is already a member of this group")
	ErrGroupNotJoinable       = errors.New("group is not open for direct joins")
	ErrInvalidStateTransition = errors.New("illegal group state transition")
	ErrNotEnoughMembers       = errors.New("group needs at least two members")
	ErrTurnNotFound           = errors.New("turn not found")
	ErrTurnNotOpen            = errors.New("turn is not open for contributions")
	ErrNoObligation           = errors.New("no pending contribution for this member on this turn")
	ErrObligationOutstanding  = errors.New("member has an outstanding financial obligation")
	ErrRefundJobNotFound      = errors.New("refund job not found")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// FindOrCreateAccountByUserID returns the user's wallet, creating it lazily
// on first use.
func (r *PostgresRepository) FindOrCreateAccountByUserID(ctx context.Context, userID uuid.UUID, currency string) (*domain.WalletAccount, error) {
	var account domain.WalletAccount
	query := `
		INSERT INTO wallet_accounts (id, user_id, balance, currency)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = wallet_accounts.updated_at
		RETURNING id, user_id, balance, currency, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, uuid.New(), userID, currency).Scan(
		&account.ID, &account.UserID, &account.Balance, &account.Currency,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// FindAccountByUserID retrieves a user's wallet account.
func (r *PostgresRepository) FindAccountByUserID(ctx context.Context, userID uuid.UUID) (*domain.WalletAccount, error) {
	var account domain.WalletAccount
	query := `SELECT id, user_id, balance, currency, created_at, updated_at FROM wallet_accounts WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&account.ID, &account.UserID, &account.Balance, &account.Currency,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// lockAccountTx locks the user's wallet row for the duration of the enclosing
// transaction, creating the wallet lazily when requested. The insert path
// also holds the row lock, since the inserting transaction owns the new row.
func (r *PostgresRepository) lockAccountTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, createIfMissing bool) (*domain.WalletAccount, error) {
	var account domain.WalletAccount
	query := `SELECT id, user_id, balance, currency FROM wallet_accounts WHERE user_id = $1 FOR UPDATE`
	err := tx.QueryRow(ctx, query, userID).Scan(&account.ID, &account.UserID, &account.Balance, &account.Currency)
	if err == nil {
		return &account, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}
	if !createIfMissing {
		return nil, ErrAccountNotFound
	}
	if currency == "" {
		currency = "XOF"
	}
	// Two transactions can race to create the same wallet; DO NOTHING lets the
	// loser fall through to the re-select, which blocks on the winner's row
	// lock until it commits.
	insert := `
		INSERT INTO wallet_accounts (id, user_id, balance, currency)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, uuid.New(), userID, currency); err != nil {
		return nil, err
	}
	err = tx.QueryRow(ctx, query, userID).Scan(&account.ID, &account.UserID, &account.Balance, &account.Currency)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// findEntryByKeyTx looks up a prior journal entry for an idempotency key.
func (r *PostgresRepository) findEntryByKeyTx(ctx context.Context, tx pgx.Tx, key string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	query := `
		SELECT id, account_id, direction, amount, category, correlation_id, idempotency_key, balance_after, created_at
		FROM ledger_entries
		WHERE idempotency_key = $1
	`
	err := tx.QueryRow(ctx, query, key).Scan(
		&entry.ID, &entry.AccountID, &entry.Direction, &entry.Amount, &entry.Category,
		&entry.CorrelationID, &entry.IdempotencyKey, &entry.BalanceAfter, &entry.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// matchesReplay verifies that a replayed mutation carries the same logical
// operation as the entry already written under its idempotency key.
func matchesReplay(entry *domain.LedgerEntry, accountID uuid.UUID, direction string, amount int64, category string) bool {
	return entry.AccountID == accountID &&
		entry.Direction == direction &&
		entry.Amount == amount &&
		entry.Category == category
}

// appendEntryTx writes one immutable journal row and moves the cached balance
// to match. The caller must hold the account row lock.
func (r *PostgresRepository) appendEntryTx(ctx context.Context, tx pgx.Tx, account *domain.WalletAccount, direction string, amount int64, category, correlationID, idempotencyKey string) (*domain.LedgerEntry, error) {
	newBalance := account.Balance
	if direction == domain.DirectionCredit {
		newBalance += amount
	} else {
		newBalance -= amount
	}

	var entry domain.LedgerEntry
	insert := `
		INSERT INTO ledger_entries (id, account_id, direction, amount, category, correlation_id, idempotency_key, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, account_id, direction, amount, category, correlation_id, idempotency_key, balance_after, created_at
	`
	err := tx.QueryRow(ctx, insert, uuid.New(), account.ID, direction, amount, category, correlationID, idempotencyKey, newBalance).Scan(
		&entry.ID, &entry.AccountID, &entry.Direction, &entry.Amount, &entry.Category,
		&entry.CorrelationID, &entry.IdempotencyKey, &entry.BalanceAfter, &entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateOperation
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE wallet_accounts SET balance = $1, updated_at = NOW() WHERE id = $2`, newBalance, account.ID); err != nil {
		return nil, err
	}
	account.Balance = newBalance
	return &entry, nil
}

// CreditAccount appends a credit entry and updates the cached balance
// atomically. A replay with the same key returns the original entry.
func (r *PostgresRepository) CreditAccount(ctx context.Context, params LedgerMutationParams) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account, err := r.lockAccountTx(ctx, tx, params.UserID, params.Currency, true)
	if err != nil {
		return nil, err
	}

	if existing, err := r.findEntryByKeyTx(ctx, tx, params.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		if !matchesReplay(existing, account.ID, domain.DirectionCredit, params.Amount, params.Category) {
			return nil, ErrDuplicateOperation
		}
		return existing, tx.Commit(ctx)
	}

	entry, err := r.appendEntryTx(ctx, tx, account, domain.DirectionCredit, params.Amount, params.Category, params.CorrelationID, params.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

// DebitAccount appends a debit entry after an overdraft check performed under
// the account row lock, so concurrent debits can never both pass against a
// stale balance.
func (r *PostgresRepository) DebitAccount(ctx context.Context, params LedgerMutationParams) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account, err := r.lockAccountTx(ctx, tx, params.UserID, params.Currency, false)
	if err != nil {
		return nil, err
	}

	if existing, err := r.findEntryByKeyTx(ctx, tx, params.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		if !matchesReplay(existing, account.ID, domain.DirectionDebit, params.Amount, params.Category) {
			return nil, ErrDuplicateOperation
		}
		return existing, tx.Commit(ctx)
	}

	if account.Balance < params.Amount {
		return nil, ErrInsufficientFunds
	}

	entry, err := r.appendEntryTx(ctx, tx, account, domain.DirectionDebit, params.Amount, params.Category, params.CorrelationID, params.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

// TransferBetweenAccounts moves funds between two wallets as one debit and
// one credit sharing a correlation id, all-or-nothing. Accounts are locked in
// a deterministic order to avoid deadlocks between crossing transfers.
func (r *PostgresRepository) TransferBetweenAccounts(ctx context.Context, params TransferParams) (*domain.LedgerEntry, *domain.LedgerEntry, error) {
	if params.FromUserID == params.ToUserID {
		return nil, nil, fmt.Errorf("transfer requires two distinct accounts")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	first, second := params.FromUserID, params.ToUserID
	if strings.Compare(second.String(), first.String()) < 0 {
		first, second = second, first
	}
	lockedFirst, err := r.lockAccountTx(ctx, tx, first, params.Currency, true)
	if err != nil {
		return nil, nil, err
	}
	lockedSecond, err := r.lockAccountTx(ctx, tx, second, params.Currency, true)
	if err != nil {
		return nil, nil, err
	}
	from, to := lockedFirst, lockedSecond
	if from.UserID != params.FromUserID {
		from, to = lockedSecond, lockedFirst
	}

	outKey := params.IdempotencyKey + ":out"
	inKey := params.IdempotencyKey + ":in"

	// Both legs are written in one transaction, so a prior out-entry implies
	// the full transfer already happened.
	if existing, err := r.findEntryByKeyTx(ctx, tx, outKey); err != nil {
		return nil, nil, err
	} else if existing != nil {
		if !matchesReplay(existing, from.ID, domain.DirectionDebit, params.Amount, domain.CategoryTransferOut) {
			return nil, nil, ErrDuplicateOperation
		}
		inEntry, err := r.findEntryByKeyTx(ctx, tx, inKey)
		if err != nil {
			return nil, nil, err
		}
		return existing, inEntry, tx.Commit(ctx)
	}

	if from.Balance < params.Amount {
		return nil, nil, ErrInsufficientFunds
	}

	debit, err := r.appendEntryTx(ctx, tx, from, domain.DirectionDebit, params.Amount, domain.CategoryTransferOut, params.CorrelationID, outKey)
	if err != nil {
		return nil, nil, err
	}
	credit, err := r.appendEntryTx(ctx, tx, to, domain.DirectionCredit, params.Amount, domain.CategoryTransferIn, params.CorrelationID, inKey)
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, tx.Commit(ctx)
}

// ReconcileAccount recomputes the balance from the full journal and reports
// whether it matches the cached value. A consistency check, not a hot path.
func (r *PostgresRepository) ReconcileAccount(ctx context.Context, accountID uuid.UUID) (*domain.ReconciliationResult, error) {
	result := domain.ReconciliationResult{AccountID: accountID}
	query := `
		SELECT
			a.balance,
			COALESCE(SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END), 0)
		FROM wallet_accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id
		WHERE a.id = $1
		GROUP BY a.balance
	`
	err := r.db.QueryRow(ctx, query, accountID).Scan(&result.CachedBalance, &result.JournalBalance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	result.Consistent = result.CachedBalance == result.JournalBalance
	return &result, nil
}

// ListLedgerEntries returns a filtered page of an account's journal, newest
// first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, filter domain.LedgerEntryFilter) ([]domain.LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, account_id, direction, amount, category, correlation_id, idempotency_key, balance_after, created_at
		FROM ledger_entries
		WHERE account_id = $1
	`
	args := []any{accountID}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		err := rows.Scan(
			&entry.ID, &entry.AccountID, &entry.Direction, &entry.Amount, &entry.Category,
			&entry.CorrelationID, &entry.IdempotencyKey, &entry.BalanceAfter, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetFinancialSummary aggregates an account's journal per category. Derived
// data for the UI layer, never the source of truth.
func (r *PostgresRepository) GetFinancialSummary(ctx context.Context, accountID uuid.UUID) (*domain.FinancialSummary, error) {
	summary := domain.FinancialSummary{
		AccountID:  accountID,
		ByCategory: make(map[string]int64),
	}

	if err := r.db.QueryRow(ctx, `SELECT balance FROM wallet_accounts WHERE id = $1`, accountID).Scan(&summary.Balance); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	query := `
		SELECT
			category,
			COUNT(*),
			COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE 0 END), 0)
		FROM ledger_entries
		WHERE account_id = $1
		GROUP BY category
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count, credited, debited int64
		if err := rows.Scan(&category, &count, &credited, &debited); err != nil {
			return nil, err
		}
		summary.EntryCount += count
		summary.TotalCredited += credited
		summary.TotalDebited += debited
		summary.ByCategory[category] = credited - debited
	}
	return &summary, rows.Err()
}
