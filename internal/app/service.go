/**
 * @description
 * This file contains the core business logic for the tontine-service. The
 * `Service` struct orchestrates all group and wallet operations, coordinating
 * between the database repository, the payments gateway client, and the
 * message broker.
 *
 * Key features:
 * - Implements the main use cases: wallet funding/withdrawal, group
 *   lifecycle, invitation admission, contribution recording, and the
 *   defaulter cancellation flow.
 * - Ensures transactional integrity by delegating every multi-row money
 *   movement to an atomic repository method.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/gatewayclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
	"github.com/adashe/tontine-service/pkg/gatewayclient"
	"github.com/adashe/tontine-service/pkg/rabbitmq"
)

var (
	// ErrNotAuthorized is returned when the caller holds no role that permits
	// the requested operation.
	ErrNotAuthorized = errors.New("caller is not authorized for this operation")

	// ErrValidation is wrapped around payload validation failures.
	ErrValidation = errors.New("invalid request payload")
)

// Service provides the core business logic for rotating-savings groups.
type Service struct {
	repo            store.Repository
	gatewayClient   *gatewayclient.Client
	eventProducer   rabbitmq.Publisher
	defaultCurrency string
	invitationTTL   time.Duration
}

// NewService creates a new tontine service instance.
func NewService(repo store.Repository, gateway *gatewayclient.Client, producer rabbitmq.Publisher, defaultCurrency string, invitationTTL time.Duration) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "XOF"
	}
	if invitationTTL <= 0 {
		invitationTTL = 72 * time.Hour
	}
	return &Service{
		repo:            repo,
		gatewayClient:   gateway,
		eventProducer:   producer,
		defaultCurrency: defaultCurrency,
		invitationTTL:   invitationTTL,
	}
}

// publish sends a domain event, logging instead of failing the caller when
// the broker is unavailable. The source of truth has already committed.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, domain.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// Deposit credits a user's wallet. The idempotency key makes gateway webhook
// redeliveries and client retries safe.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount int64, idempotencyKey, correlationID string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrValidation)
	}
	if idempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	return s.repo.CreditAccount(ctx, store.LedgerMutationParams{
		UserID:         userID,
		Amount:         amount,
		Category:       domain.CategoryDeposit,
		CorrelationID:  correlationID,
		IdempotencyKey: idempotencyKey,
		Currency:       s.defaultCurrency,
	})
}

// Withdraw debits a user's wallet after the repository's overdraft check.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount int64, idempotencyKey, correlationID string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrValidation)
	}
	if idempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	return s.repo.DebitAccount(ctx, store.LedgerMutationParams{
		UserID:         userID,
		Amount:         amount,
		Category:       domain.CategoryWithdrawal,
		CorrelationID:  correlationID,
		IdempotencyKey: idempotencyKey,
		Currency:       s.defaultCurrency,
	})
}

// InitiateDeposit asks the payments gateway to collect funds from the user's
// external payment method. The wallet is credited later, when the gateway's
// charge.confirmed event arrives.
func (s *Service) InitiateDeposit(ctx context.Context, userID uuid.UUID, amount int64, idempotencyKey string) (string, error) {
	if s.gatewayClient == nil {
		return "", errors.New("payments gateway is not configured")
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: deposit amount must be positive", ErrValidation)
	}
	if idempotencyKey == "" {
		return "", fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}

	resp, err := s.gatewayClient.InitiateCharge(ctx, userID.String(), "wallet deposit", idempotencyKey, s.defaultCurrency, amount)
	if err != nil {
		return "", fmt.Errorf("gateway charge failed: %w", err)
	}
	return resp.Data.ID, nil
}

// CheckDepositStatus reconciles a deposit whose outcome event never arrived.
// It asks the gateway for the charge intent's current status and, when the
// charge settled, credits the wallet through the same idempotency key the
// event consumer uses, so a late-arriving event cannot credit twice.
func (s *Service) CheckDepositStatus(ctx context.Context, userID uuid.UUID, intentID string) (string, error) {
	if s.gatewayClient == nil {
		return "", errors.New("payments gateway is not configured")
	}
	if intentID == "" {
		return "", fmt.Errorf("%w: charge intent id is required", ErrValidation)
	}

	resp, err := s.gatewayClient.GetChargeStatus(ctx, intentID)
	if err != nil {
		return "", fmt.Errorf("gateway status lookup failed: %w", err)
	}

	status := normalizeChargeStatus(resp.Data.Attributes.Status)
	if status != "confirmed" {
		return status, nil
	}
	if resp.Data.Attributes.Amount <= 0 {
		return "", fmt.Errorf("gateway reported confirmed charge %s with non-positive amount %d", intentID, resp.Data.Attributes.Amount)
	}
	currency := strings.ToUpper(strings.TrimSpace(resp.Data.Attributes.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	_, err = s.repo.CreditAccount(ctx, store.LedgerMutationParams{
		UserID:         userID,
		Amount:         resp.Data.Attributes.Amount,
		Category:       domain.CategoryDeposit,
		CorrelationID:  intentID,
		IdempotencyKey: "charge:" + intentID,
		Currency:       currency,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateOperation) {
		return "", fmt.Errorf("credit wallet: %w", err)
	}
	return status, nil
}

// Transfer moves funds between two users' wallets.
func (s *Service) Transfer(ctx context.Context, fromUserID, toUserID uuid.UUID, amount int64, idempotencyKey, correlationID string) (*domain.LedgerEntry, *domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, nil, fmt.Errorf("%w: transfer amount must be positive", ErrValidation)
	}
	if idempotencyKey == "" {
		return nil, nil, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	return s.repo.TransferBetweenAccounts(ctx, store.TransferParams{
		FromUserID:     fromUserID,
		ToUserID:       toUserID,
		Amount:         amount,
		CorrelationID:  correlationID,
		IdempotencyKey: idempotencyKey,
		Currency:       s.defaultCurrency,
	})
}

// GetWallet returns the user's wallet, creating it lazily on first access.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.WalletAccount, error) {
	return s.repo.FindOrCreateAccountByUserID(ctx, userID, s.defaultCurrency)
}

// ListLedgerEntries returns a filtered page of the user's wallet journal.
func (s *Service) ListLedgerEntries(ctx context.Context, userID uuid.UUID, filter domain.LedgerEntryFilter) ([]domain.LedgerEntry, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLedgerEntries(ctx, account.ID, filter)
}

// GetFinancialSummary returns the user's per-category wallet aggregates.
func (s *Service) GetFinancialSummary(ctx context.Context, userID uuid.UUID) (*domain.FinancialSummary, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetFinancialSummary(ctx, account.ID)
}

// ReconcileWallet recomputes the user's wallet balance from the journal and
// reports any divergence from the cached value.
func (s *Service) ReconcileWallet(ctx context.Context, userID uuid.UUID) (*domain.ReconciliationResult, error) {
	account, err := s.repo.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	result, err := s.repo.ReconcileAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if !result.Consistent {
		log.Printf("level=error component=service msg=\"wallet balance divergence detected\" account_id=%s cached=%d journal=%d",
			account.ID, result.CachedBalance, result.JournalBalance)
	}
	return result, nil
}
