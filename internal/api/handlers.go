/**
 * @description
 * This file contains the HTTP handlers for the wallet endpoints and the
 * payment gateway webhook. Handlers are responsible for parsing incoming
 * requests, calling the appropriate methods on the application service, and
 * writing the HTTP response. They act as the bridge between the web layer and
 * the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/app"
	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
)

// Handlers holds the application services that HTTP handlers will use.
type Handlers struct {
	service        *app.Service
	chargeConsumer *app.ChargeStatusConsumer
	rateLimiter    *app.RedisRateLimiter

	contributionLimitPerMinute int
	inviteLimitPerMinute       int
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, chargeConsumer *app.ChargeStatusConsumer, rateLimiter *app.RedisRateLimiter, contributionLimit, inviteLimit int) *Handlers {
	return &Handlers{
		service:                    service,
		chargeConsumer:             chargeConsumer,
		rateLimiter:                rateLimiter,
		contributionLimitPerMinute: contributionLimit,
		inviteLimitPerMinute:       inviteLimit,
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service and store errors onto HTTP statuses. Unknown
// errors become a generic 500 so internals never leak to clients.
func (h *Handlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotAuthorized):
		h.writeError(w, http.StatusForbidden, "You are not authorized for this operation")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient wallet balance")
	case errors.Is(err, store.ErrGroupNotFound),
		errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrTurnNotFound),
		errors.Is(err, store.ErrInvitationNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrRefundJobNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvitationExpired):
		h.writeError(w, http.StatusGone, "Invitation has expired")
	case errors.Is(err, store.ErrCapacityExceeded),
		errors.Is(err, store.ErrAlreadyMember),
		errors.Is(err, store.ErrInvitationAlreadyUsed),
		errors.Is(err, store.ErrInvalidStateTransition),
		errors.Is(err, store.ErrGroupNotJoinable),
		errors.Is(err, store.ErrTurnNotOpen),
		errors.Is(err, store.ErrNoObligation),
		errors.Is(err, store.ErrObligationOutstanding),
		errors.Is(err, store.ErrDuplicateOperation):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotEnoughMembers),
		errors.Is(err, store.ErrAmountMismatch):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// authedUser extracts the caller's id placed on the context by the auth
// middleware.
func (h *Handlers) authedUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

// enforceRateLimit consumes one slot from the caller's fixed window. Returns
// false after writing a 429 when the limit is exhausted.
func (h *Handlers) enforceRateLimit(w http.ResponseWriter, r *http.Request, scope string, subject uuid.UUID, limit int) bool {
	if h.rateLimiter == nil || limit <= 0 {
		return true
	}
	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), scope, subject.String(), limit, time.Minute)
	if err != nil {
		// Fail open: a limiter outage must not take wallet operations down.
		log.Printf("level=warn component=api msg=\"rate limiter unavailable\" scope=%s err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests; slow down")
		return false
	}
	return true
}

type depositRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type withdrawRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type transferRequest struct {
	ToUserID       uuid.UUID `json:"to_user_id"`
	Amount         int64     `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// GetWalletHandler returns the caller's wallet, creating it on first access.
func (h *Handlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	wallet, err := h.service.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "get_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// InitiateDepositHandler asks the gateway to collect funds; the wallet is
// credited asynchronously when the charge settles.
func (h *Handlers) InitiateDepositHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	intentID, err := h.service.InitiateDeposit(r.Context(), userID, req.Amount, req.IdempotencyKey)
	if err != nil {
		log.Printf("level=warn component=api endpoint=initiate_deposit outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, "initiate_deposit", err)
		return
	}

	log.Printf("level=info component=api endpoint=initiate_deposit outcome=accepted user_id=%s amount=%d intent_id=%s", userID, req.Amount, intentID)
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"intent_id": intentID,
		"status":    "pending",
	})
}

// DepositStatusHandler polls the gateway for a charge intent's current state.
// Clients call this when the asynchronous outcome never arrived; a settled
// charge is credited on the spot through the consumer's idempotency key.
func (h *Handlers) DepositStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	intentID := chi.URLParam(r, "intentID")
	status, err := h.service.CheckDepositStatus(r.Context(), userID, intentID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=deposit_status outcome=failed user_id=%s intent_id=%s err=%v", userID, intentID, err)
		h.writeServiceError(w, "deposit_status", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"intent_id": intentID,
		"status":    status,
	})
}

// WithdrawHandler debits the caller's wallet.
func (h *Handlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	entry, err := h.service.Withdraw(r.Context(), userID, req.Amount, req.IdempotencyKey, "")
	if err != nil {
		log.Printf("level=warn component=api endpoint=withdraw outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, "withdraw", err)
		return
	}

	log.Printf("level=info component=api endpoint=withdraw outcome=accepted user_id=%s amount=%d", userID, req.Amount)
	h.writeJSON(w, http.StatusCreated, entry)
}

// TransferHandler moves funds between two wallets.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.ToUserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "to_user_id is required")
		return
	}

	debit, credit, err := h.service.Transfer(r.Context(), userID, req.ToUserID, req.Amount, req.IdempotencyKey, "")
	if err != nil {
		log.Printf("level=warn component=api endpoint=transfer outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, "transfer", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"debit":  debit,
		"credit": credit,
	})
}

// ListLedgerHandler returns a filtered page of the caller's wallet journal.
func (h *Handlers) ListLedgerHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	filter := domain.LedgerEntryFilter{
		Category: r.URL.Query().Get("category"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	entries, err := h.service.ListLedgerEntries(r.Context(), userID, filter)
	if err != nil {
		h.writeServiceError(w, "list_ledger", err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// FinancialSummaryHandler returns the caller's per-category wallet aggregates.
func (h *Handlers) FinancialSummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetFinancialSummary(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "financial_summary", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// ReconcileWalletHandler recomputes the caller's balance from the journal.
func (h *Handlers) ReconcileWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}
	result, err := h.service.ReconcileWallet(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "reconcile_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ChargeWebhookHandler receives charge outcome callbacks from the payments
// gateway. Shares the consumer's processing path so queue deliveries and
// webhooks behave identically; a processing failure returns 500 so the
// gateway redelivers.
func (h *Handlers) ChargeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	if !h.chargeConsumer.HandleMessage(body) {
		h.writeError(w, http.StatusInternalServerError, "Charge event processing failed; retry")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
