package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
)

// ChargeStatusConsumer applies the payment gateway's asynchronous charge
// outcomes to wallets. A confirmed charge credits the payer's wallet as a
// deposit; the gateway's intent id doubles as the idempotency key, so a
// redelivered event can never credit twice.
type ChargeStatusConsumer struct {
	repo            store.Repository
	defaultCurrency string
}

func NewChargeStatusConsumer(repo store.Repository, defaultCurrency string) *ChargeStatusConsumer {
	if defaultCurrency == "" {
		defaultCurrency = "XOF"
	}
	return &ChargeStatusConsumer{repo: repo, defaultCurrency: defaultCurrency}
}

func (c *ChargeStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.ChargeStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("charge-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.IntentID == "" {
		log.Printf("charge-consumer: missing intent id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("charge-consumer: processing error for intent %s: %v", event.IntentID, err)
		return false
	}

	return true
}

func (c *ChargeStatusConsumer) processEvent(ctx context.Context, event domain.ChargeStatusEvent) error {
	userID, err := uuid.Parse(strings.TrimSpace(event.PayerRef))
	if err != nil {
		// A malformed payer ref will never resolve; dropping beats requeuing forever.
		log.Printf("charge-consumer: unparsable payer ref %q for intent %s; acknowledging", event.PayerRef, event.IntentID)
		return nil
	}

	switch normalizeChargeStatus(event.Status) {
	case "confirmed":
		if event.Amount <= 0 {
			log.Printf("charge-consumer: non-positive amount %d for intent %s; acknowledging", event.Amount, event.IntentID)
			return nil
		}
		currency := strings.ToUpper(strings.TrimSpace(event.Currency))
		if currency == "" {
			currency = c.defaultCurrency
		}
		_, err := c.repo.CreditAccount(ctx, store.LedgerMutationParams{
			UserID:         userID,
			Amount:         event.Amount,
			Category:       domain.CategoryDeposit,
			CorrelationID:  event.IntentID,
			IdempotencyKey: "charge:" + event.IntentID,
			Currency:       currency,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicateOperation) {
				log.Printf("charge-consumer: conflicting replay for intent %s; acknowledging", event.IntentID)
				return nil
			}
			return fmt.Errorf("credit wallet: %w", err)
		}
		return nil
	case "failed":
		// Nothing was credited; the failure is informational.
		log.Printf("charge-consumer: charge failed for intent %s user %s reason=%q", event.IntentID, userID, event.Reason)
		return nil
	default:
		log.Printf("charge-consumer: ignoring intermediate status %q for intent %s", event.Status, event.IntentID)
		return nil
	}
}

func normalizeChargeStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case "confirmed", "successful", "success", "settled":
		return "confirmed"
	case "failed", "failure", "declined":
		return "failed"
	default:
		return status
	}
}
