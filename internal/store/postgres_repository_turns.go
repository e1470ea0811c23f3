/**
 * @description
 * This file provides the PostgreSQL implementation of the rotation engine's
 * data access: turn materialization on activation, the contribution
 * confirmation cascade, the cancellation/default cascade, and the durable
 * refund work queue.
 *
 * The confirmation cascade is the critical section of the whole system. It
 * runs as one transaction holding the turn row lock, so "is this the last
 * pending contribution" is linearizable with respect to every concurrent
 * confirmation on the same turn: two simultaneous last-slot confirmations can
 * never both trigger the payout.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adashe/tontine-service/internal/domain"
)

// ErrAmountMismatch rejects contributions that do not match the group's
// fixed contribution amount.
var ErrAmountMismatch = errors.New("amount does not match the group contribution")

const turnColumns = `id, group_id, sequence, beneficiary_member_id, scheduled_at, status, pot_amount, opened_at, completed_at, created_at, updated_at`

func scanTurn(row pgx.Row, turn *domain.Turn) error {
	return row.Scan(
		&turn.ID, &turn.GroupID, &turn.Sequence, &turn.BeneficiaryMemberID,
		&turn.ScheduledAt, &turn.Status, &turn.PotAmount, &turn.OpenedAt,
		&turn.CompletedAt, &turn.CreatedAt, &turn.UpdatedAt)
}

const contributionColumns = `id, turn_id, member_id, amount, method, status, confirmed_at, idempotency_key, created_at, updated_at`

func scanContribution(row pgx.Row, c *domain.Contribution) error {
	return row.Scan(
		&c.ID, &c.TurnID, &c.MemberID, &c.Amount, &c.Method, &c.Status,
		&c.ConfirmedAt, &c.IdempotencyKey, &c.CreatedAt, &c.UpdatedAt)
}

// FindOpenTurn returns a group's single open turn, if any.
func (r *PostgresRepository) FindOpenTurn(ctx context.Context, groupID uuid.UUID) (*domain.Turn, error) {
	var turn domain.Turn
	query := `SELECT ` + turnColumns + ` FROM turns WHERE group_id = $1 AND status = 'open'`
	err := scanTurn(r.db.QueryRow(ctx, query, groupID), &turn)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTurnNotFound
		}
		return nil, err
	}
	return &turn, nil
}

// ListTurnsByGroup returns a group's full turn sequence in rotation order.
func (r *PostgresRepository) ListTurnsByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Turn, error) {
	rows, err := r.db.Query(ctx, `SELECT `+turnColumns+` FROM turns WHERE group_id = $1 ORDER BY sequence ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		if err := scanTurn(rows, &turn); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// ListContributionsByTurn returns all contribution rows for a turn.
func (r *PostgresRepository) ListContributionsByTurn(ctx context.Context, turnID uuid.UUID) ([]domain.Contribution, error) {
	rows, err := r.db.Query(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE turn_id = $1 ORDER BY created_at ASC`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contributions []domain.Contribution
	for rows.Next() {
		var c domain.Contribution
		if err := scanContribution(rows, &c); err != nil {
			return nil, err
		}
		contributions = append(contributions, c)
	}
	return contributions, rows.Err()
}

// ActivateGroup flips a draft group to active, materializes the full turn
// sequence (organizer first, then join order, ties broken by member id), and
// opens turn #1 with its contribution set, all in one transaction.
func (r *PostgresRepository) ActivateGroup(ctx context.Context, groupID uuid.UUID) (*ActivationResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var group domain.Group
	err = scanGroup(tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1 FOR UPDATE`, groupID), &group)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	if group.Status != domain.GroupStatusDraft {
		return nil, ErrInvalidStateTransition
	}

	memberRows, err := tx.Query(ctx, `
		SELECT id FROM members
		WHERE group_id = $1 AND status = 'active'
		ORDER BY (role = 'organizer') DESC, joined_at ASC, id ASC
	`, groupID)
	if err != nil {
		return nil, err
	}
	var memberIDs []uuid.UUID
	for memberRows.Next() {
		var id uuid.UUID
		if err := memberRows.Scan(&id); err != nil {
			memberRows.Close()
			return nil, err
		}
		memberIDs = append(memberIDs, id)
	}
	memberRows.Close()
	if err := memberRows.Err(); err != nil {
		return nil, err
	}
	if len(memberIDs) < domain.MinGroupCapacity {
		return nil, ErrNotEnoughMembers
	}

	if _, err := tx.Exec(ctx, `UPDATE groups SET status = 'active', updated_at = NOW() WHERE id = $1`, groupID); err != nil {
		return nil, err
	}
	group.Status = domain.GroupStatusActive

	now := time.Now().UTC()
	turns := make([]domain.Turn, 0, len(memberIDs))
	for i, beneficiaryID := range memberIDs {
		var turn domain.Turn
		insert := `
			INSERT INTO turns (id, group_id, sequence, beneficiary_member_id, scheduled_at, status, pot_amount)
			VALUES ($1, $2, $3, $4, $5, 'pending', 0)
			RETURNING ` + turnColumns + `
		`
		scheduled := domain.AddCadence(now, group.Cadence, i+1)
		if err := scanTurn(tx.QueryRow(ctx, insert, uuid.New(), groupID, i+1, beneficiaryID, scheduled), &turn); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}

	opened, err := r.openTurnTx(ctx, tx, turns[0].ID, group.ContributionAmount)
	if err != nil {
		return nil, err
	}
	turns[0] = *opened

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ActivationResult{Group: &group, Turns: turns, OpenedTurn: opened}, nil
}

// openTurnTx transitions a pending turn to open: fixes the pot from the
// current active member count and creates one pending contribution per
// non-beneficiary member. The caller's transaction must already serialize
// access to the group's rotation state.
func (r *PostgresRepository) openTurnTx(ctx context.Context, tx pgx.Tx, turnID uuid.UUID, contributionAmount int64) (*domain.Turn, error) {
	var groupID, beneficiaryID uuid.UUID
	err := tx.QueryRow(ctx, `SELECT group_id, beneficiary_member_id FROM turns WHERE id = $1 AND status = 'pending'`, turnID).
		Scan(&groupID, &beneficiaryID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTurnNotFound
		}
		return nil, err
	}

	memberRows, err := tx.Query(ctx, `SELECT id FROM members WHERE group_id = $1 AND status = 'active'`, groupID)
	if err != nil {
		return nil, err
	}
	var payerIDs []uuid.UUID
	activeCount := 0
	for memberRows.Next() {
		var id uuid.UUID
		if err := memberRows.Scan(&id); err != nil {
			memberRows.Close()
			return nil, err
		}
		activeCount++
		if id != beneficiaryID {
			payerIDs = append(payerIDs, id)
		}
	}
	memberRows.Close()
	if err := memberRows.Err(); err != nil {
		return nil, err
	}

	pot := domain.PotAmount(contributionAmount, activeCount)

	var turn domain.Turn
	update := `
		UPDATE turns
		SET status = 'open', pot_amount = $1, opened_at = NOW(), updated_at = NOW()
		WHERE id = $2
		RETURNING ` + turnColumns + `
	`
	if err := scanTurn(tx.QueryRow(ctx, update, pot, turnID), &turn); err != nil {
		return nil, err
	}

	for _, payerID := range payerIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO contributions (id, turn_id, member_id, amount, method, status)
			VALUES ($1, $2, $3, $4, '', 'pending')
		`, uuid.New(), turnID, payerID, contributionAmount)
		if err != nil {
			return nil, err
		}
	}
	return &turn, nil
}

// closedTurnError picks the error for a payment against a turn that is no
// longer open. A settled obligation (confirmed or reversed) means the payer
// has nothing left to pay on this turn; everything else is a turn-state error,
// so payments against cancelled turns are still rejected as such.
func closedTurnError(contributionStatus string, found bool) error {
	if found && (contributionStatus == domain.ContributionStatusConfirmed || contributionStatus == domain.ContributionStatusReversed) {
		return ErrNoObligation
	}
	return ErrTurnNotOpen
}

// ConfirmContribution records one member's payment for an open turn and runs
// the completion cascade when it was the last pending obligation: payout to
// the beneficiary, turn completion, then either the next turn opening or the
// group completing. One transaction end to end; a failed debit leaves the
// contribution pending and writes nothing.
func (r *PostgresRepository) ConfirmContribution(ctx context.Context, params ConfirmContributionParams) (*domain.ContributionOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the turn first: it is the unit of locking for rotation state.
	var turn domain.Turn
	err = scanTurn(tx.QueryRow(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = $1 FOR UPDATE`, params.TurnID), &turn)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTurnNotFound
		}
		return nil, err
	}

	var group domain.Group
	err = scanGroup(tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, turn.GroupID), &group)
	if err != nil {
		return nil, err
	}
	if params.Amount != group.ContributionAmount {
		return nil, ErrAmountMismatch
	}

	// Gateway callbacks may be redelivered: a replayed confirmation returns
	// the original result without touching the journal.
	if existing, err := r.findEntryByKeyTx(ctx, tx, params.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.Direction != domain.DirectionDebit || existing.Amount != params.Amount || existing.Category != domain.CategoryContribution {
			return nil, ErrDuplicateOperation
		}
		var c domain.Contribution
		err = scanContribution(tx.QueryRow(ctx,
			`SELECT `+contributionColumns+` FROM contributions WHERE turn_id = $1 AND member_id = $2`,
			params.TurnID, params.MemberID), &c)
		if err != nil {
			return nil, err
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, commitErr
		}
		return &domain.ContributionOutcome{Contribution: &c, DebitEntry: existing, Duplicate: true}, nil
	}

	if turn.Status != domain.TurnStatusOpen {
		// A concurrent confirmation can complete the turn while this caller
		// waits on the turn lock. If the payer's own obligation is already
		// settled, that is the sharper error than a blanket turn-state one.
		var contributionStatus string
		err := tx.QueryRow(ctx,
			`SELECT status FROM contributions WHERE turn_id = $1 AND member_id = $2`,
			params.TurnID, params.MemberID).Scan(&contributionStatus)
		if err != nil && err != pgx.ErrNoRows {
			return nil, err
		}
		return nil, closedTurnError(contributionStatus, err == nil)
	}

	var contribution domain.Contribution
	err = scanContribution(tx.QueryRow(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE turn_id = $1 AND member_id = $2 FOR UPDATE`,
		params.TurnID, params.MemberID), &contribution)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoObligation
		}
		return nil, err
	}
	if contribution.Status != domain.ContributionStatusPending {
		return nil, ErrNoObligation
	}

	var payerUserID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT user_id FROM members WHERE id = $1`, contribution.MemberID).Scan(&payerUserID); err != nil {
		return nil, err
	}

	payerAccount, err := r.lockAccountTx(ctx, tx, payerUserID, group.Currency, false)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// No wallet yet means no funds: the caller must fund first.
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}
	if payerAccount.Balance < params.Amount {
		return nil, ErrInsufficientFunds
	}

	debitEntry, err := r.appendEntryTx(ctx, tx, payerAccount, domain.DirectionDebit, params.Amount,
		domain.CategoryContribution, contribution.ID.String(), params.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	confirm := `
		UPDATE contributions
		SET status = 'confirmed', confirmed_at = NOW(), method = $1, idempotency_key = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING ` + contributionColumns + `
	`
	if err := scanContribution(tx.QueryRow(ctx, confirm, params.Method, params.IdempotencyKey, contribution.ID), &contribution); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE members SET total_contributed = total_contributed + $1 WHERE id = $2`, params.Amount, contribution.MemberID); err != nil {
		return nil, err
	}

	outcome := &domain.ContributionOutcome{Contribution: &contribution, DebitEntry: debitEntry}

	var pendingLeft int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM contributions WHERE turn_id = $1 AND status = 'pending'`, turn.ID).Scan(&pendingLeft); err != nil {
		return nil, err
	}
	if pendingLeft > 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	// Last obligation confirmed: pay out the pot and complete the turn.
	var beneficiaryUserID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT user_id FROM members WHERE id = $1`, turn.BeneficiaryMemberID).Scan(&beneficiaryUserID); err != nil {
		return nil, err
	}
	beneficiaryAccount, err := r.lockAccountTx(ctx, tx, beneficiaryUserID, group.Currency, true)
	if err != nil {
		return nil, err
	}
	payoutEntry, err := r.appendEntryTx(ctx, tx, beneficiaryAccount, domain.DirectionCredit, turn.PotAmount,
		domain.CategoryPayout, turn.ID.String(), "payout:"+turn.ID.String())
	if err != nil {
		return nil, err
	}
	outcome.PayoutEntry = payoutEntry
	outcome.TurnCompleted = true

	if _, err := tx.Exec(ctx, `UPDATE turns SET status = 'completed', completed_at = NOW(), updated_at = NOW() WHERE id = $1`, turn.ID); err != nil {
		return nil, err
	}

	var nextTurnID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM turns
		WHERE group_id = $1 AND status = 'pending'
		ORDER BY sequence ASC
		LIMIT 1
		FOR UPDATE
	`, turn.GroupID).Scan(&nextTurnID)
	switch {
	case err == pgx.ErrNoRows:
		// Rotation exhausted: the group completes.
		result, err := tx.Exec(ctx, `UPDATE groups SET status = 'completed', updated_at = NOW() WHERE id = $1 AND status = 'active'`, turn.GroupID)
		if err != nil {
			return nil, err
		}
		if result.RowsAffected() == 0 {
			return nil, ErrInvalidStateTransition
		}
		outcome.GroupCompleted = true
	case err != nil:
		return nil, err
	default:
		nextTurn, err := r.openTurnTx(ctx, tx, nextTurnID, group.ContributionAmount)
		if err != nil {
			return nil, err
		}
		outcome.NextTurn = nextTurn
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return outcome, nil
}

// CancelGroupCascade cancels an active group: optionally excludes a
// defaulting member, enqueues one refund job per confirmed contribution on
// the open turn, cancels the open and remaining pending turns, and flips the
// group to cancelled. The cancellation commits once refunds are enqueued,
// not once they all succeed; the dispatcher drains the queue afterwards.
func (r *PostgresRepository) CancelGroupCascade(ctx context.Context, params CancelCascadeParams) (*CancelCascadeResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var group domain.Group
	err = scanGroup(tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1 FOR UPDATE`, params.GroupID), &group)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	if group.Status != domain.GroupStatusActive {
		return nil, ErrInvalidStateTransition
	}

	result := &CancelCascadeResult{Group: &group}

	var openTurn domain.Turn
	hasOpenTurn := true
	err = scanTurn(tx.QueryRow(ctx, `SELECT `+turnColumns+` FROM turns WHERE group_id = $1 AND status = 'open' FOR UPDATE`, params.GroupID), &openTurn)
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, err
		}
		hasOpenTurn = false
	}
	if hasOpenTurn {
		result.OpenTurnID = &openTurn.ID
	}

	if params.DefaulterMemberID != nil {
		if !hasOpenTurn {
			return nil, ErrNoObligation
		}
		var hasPending bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM contributions
				WHERE turn_id = $1 AND member_id = $2 AND status = 'pending'
			)
		`, openTurn.ID, *params.DefaulterMemberID).Scan(&hasPending)
		if err != nil {
			return nil, err
		}
		if !hasPending {
			return nil, ErrNoObligation
		}

		var member domain.Member
		exclude := `
			UPDATE members
			SET status = 'excluded', excluded_reason = 'default'
			WHERE id = $1 AND status = 'active'
			RETURNING ` + memberColumns + `
		`
		if err := scanMember(tx.QueryRow(ctx, exclude, *params.DefaulterMemberID), &member); err != nil {
			if err == pgx.ErrNoRows {
				return nil, ErrMemberNotFound
			}
			return nil, err
		}
		result.ExcludedMember = &member

		if _, err := tx.Exec(ctx, `
			UPDATE contributions SET status = 'failed', updated_at = NOW()
			WHERE turn_id = $1 AND member_id = $2 AND status = 'pending'
		`, openTurn.ID, *params.DefaulterMemberID); err != nil {
			return nil, err
		}
	}

	if hasOpenTurn {
		jobs, err := r.enqueueRefundJobsTx(ctx, tx, &group, openTurn.ID, params.DefaulterMemberID)
		if err != nil {
			return nil, err
		}
		result.RefundJobs = jobs
	}

	cancelled, err := tx.Exec(ctx, `
		UPDATE turns SET status = 'cancelled', updated_at = NOW()
		WHERE group_id = $1 AND status IN ('open', 'pending')
	`, params.GroupID)
	if err != nil {
		return nil, err
	}
	result.CancelledTurns = int(cancelled.RowsAffected())

	flip := `
		UPDATE groups
		SET status = 'cancelled', cancel_reason = $1, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	if _, err := tx.Exec(ctx, flip, params.Reason, params.GroupID); err != nil {
		return nil, err
	}
	group.Status = domain.GroupStatusCancelled
	group.CancelReason = &params.Reason

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// enqueueRefundJobsTx creates one queued refund job per confirmed
// contribution on the open turn, keyed by contribution id so a replayed
// cascade cannot enqueue twice.
func (r *PostgresRepository) enqueueRefundJobsTx(ctx context.Context, tx pgx.Tx, group *domain.Group, turnID uuid.UUID, skipMemberID *uuid.UUID) ([]domain.RefundJob, error) {
	rows, err := tx.Query(ctx, `
		SELECT c.id, c.member_id, c.amount, a.id
		FROM contributions c
		JOIN members m ON m.id = c.member_id
		JOIN wallet_accounts a ON a.user_id = m.user_id
		WHERE c.turn_id = $1 AND c.status = 'confirmed'
		ORDER BY c.created_at ASC
	`, turnID)
	if err != nil {
		return nil, err
	}

	type refundTarget struct {
		contributionID uuid.UUID
		memberID       uuid.UUID
		amount         int64
		accountID      uuid.UUID
	}
	var targets []refundTarget
	for rows.Next() {
		var t refundTarget
		if err := rows.Scan(&t.contributionID, &t.memberID, &t.amount, &t.accountID); err != nil {
			rows.Close()
			return nil, err
		}
		if skipMemberID != nil && t.memberID == *skipMemberID {
			continue
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var jobs []domain.RefundJob
	for _, t := range targets {
		var job domain.RefundJob
		insert := `
			INSERT INTO refund_jobs (id, group_id, turn_id, contribution_id, account_id, amount, status, attempts, next_attempt_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'queued', 0, NOW())
			ON CONFLICT (contribution_id) DO UPDATE SET updated_at = NOW()
			RETURNING id, group_id, turn_id, contribution_id, account_id, amount, status, attempts, next_attempt_at, last_error, created_at, completed_at
		`
		err := tx.QueryRow(ctx, insert, uuid.New(), group.ID, turnID, t.contributionID, t.accountID, t.amount).Scan(
			&job.ID, &job.GroupID, &job.TurnID, &job.ContributionID, &job.AccountID,
			&job.Amount, &job.Status, &job.Attempts, &job.NextAttemptAt, &job.LastError,
			&job.CreatedAt, &job.CompletedAt)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

const refundJobColumns = `id, group_id, turn_id, contribution_id, account_id, amount, status, attempts, next_attempt_at, last_error, created_at, completed_at`

func scanRefundJob(row pgx.Row, job *domain.RefundJob) error {
	return row.Scan(
		&job.ID, &job.GroupID, &job.TurnID, &job.ContributionID, &job.AccountID,
		&job.Amount, &job.Status, &job.Attempts, &job.NextAttemptAt, &job.LastError,
		&job.CreatedAt, &job.CompletedAt)
}

// ClaimRefundJobs atomically claims a batch of due or stale refund jobs for
// processing. SKIP LOCKED keeps concurrent dispatcher instances from
// claiming the same job.
func (r *PostgresRepository) ClaimRefundJobs(ctx context.Context, batchSize int, staleAfterSeconds int) ([]domain.RefundJob, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	query := `
		UPDATE refund_jobs
		SET status = 'processing', attempts = attempts + 1, claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM refund_jobs
			WHERE (status = 'queued' AND next_attempt_at <= NOW())
			   OR (status = 'processing' AND claimed_at < NOW() - ($2 * INTERVAL '1 second'))
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + refundJobColumns + `
	`
	rows, err := r.db.Query(ctx, query, batchSize, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.RefundJob
	for rows.Next() {
		var job domain.RefundJob
		if err := scanRefundJob(rows, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// IssueRefund executes one claimed refund job: credits the original payer's
// wallet (category refund, correlation id = the refunded contribution),
// flips the contribution to reversed, and marks the job completed, all in
// one transaction. Idempotent by the refund:<contribution-id> journal key, so
// a job retried after a partial failure can never credit twice.
func (r *PostgresRepository) IssueRefund(ctx context.Context, job domain.RefundJob) (*domain.LedgerEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var account domain.WalletAccount
	err = tx.QueryRow(ctx, `SELECT id, user_id, balance, currency FROM wallet_accounts WHERE id = $1 FOR UPDATE`, job.AccountID).
		Scan(&account.ID, &account.UserID, &account.Balance, &account.Currency)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	key := "refund:" + job.ContributionID.String()
	entry, err := r.findEntryByKeyTx(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry, err = r.appendEntryTx(ctx, tx, &account, domain.DirectionCredit, job.Amount,
			domain.CategoryRefund, job.ContributionID.String(), key)
		if err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE contributions SET status = 'reversed', updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'
	`, job.ContributionID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE refund_jobs
		SET status = 'completed', completed_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, job.ID); err != nil {
		return nil, err
	}

	return entry, tx.Commit(ctx)
}

// FailRefundJob requeues a failed refund with backoff, or escalates it after
// the attempt budget is exhausted. Escalated jobs stay visible for the
// operational queue; they are never dropped.
func (r *PostgresRepository) FailRefundJob(ctx context.Context, jobID uuid.UUID, retryAfterSeconds int, maxAttempts int, lastError string) (bool, error) {
	var status string
	query := `
		UPDATE refund_jobs
		SET status = CASE WHEN attempts >= $1 THEN 'escalated' ELSE 'queued' END,
		    next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $4
		RETURNING status
	`
	err := r.db.QueryRow(ctx, query, maxAttempts, retryAfterSeconds, lastError, jobID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, ErrRefundJobNotFound
		}
		return false, err
	}
	return status == domain.RefundJobStatusEscalated, nil
}

// CountPendingRefundJobs counts a group's queued, processing and escalated
// refunds. Members poll this after a cancellation to see whether everyone
// has been made whole.
func (r *PostgresRepository) CountPendingRefundJobs(ctx context.Context, groupID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM refund_jobs
		WHERE group_id = $1 AND status IN ('queued', 'processing', 'escalated')
	`, groupID).Scan(&count)
	return count, err
}
