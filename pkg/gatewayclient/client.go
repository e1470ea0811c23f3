/**
 * @description
 * This package provides a client for the external payments gateway used to
 * collect contributions and deposits from payers' bank and mobile-money
 * accounts. It encapsulates the logic for making authenticated HTTP requests
 * to the gateway's endpoints, handling request body construction, and parsing
 * responses.
 *
 * The gateway is asynchronous: InitiateCharge returns a charge intent id
 * immediately, and the final outcome arrives later as a charge.confirmed or
 * charge.failed event on the gateway event queue.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payments gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payments gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChargeRequest represents the payload for collecting funds from a payer.
type ChargeRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Currency  string `json:"currency"`
			Amount    int64  `json:"amount"`
			Reason    string `json:"reason"`
			Reference string `json:"reference"`
		} `json:"attributes"`
		Relationships struct {
			Payer struct {
				Data struct {
					Type string `json:"type"`
					ID   string `json:"id"`
				} `json:"data"`
			} `json:"payer"`
		} `json:"relationships"`
	} `json:"data"`
}

// ChargeResponse is the expected response from the gateway's charge endpoint.
type ChargeResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status string `json:"status"`
			Fee    int64  `json:"fee"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the gateway API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("gateway api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown gateway api error"
}

// ChargeStatusResponse represents a charge intent status lookup.
type ChargeStatusResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status   string `json:"status"`
			Reason   string `json:"reason"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"attributes"`
	} `json:"data"`
}

// InitiateCharge asks the gateway to collect funds from a payer. The returned
// intent id is the correlation key for the asynchronous outcome event; the
// reference carries the caller's idempotency key so the gateway deduplicates
// retried initiations.
func (c *Client) InitiateCharge(ctx context.Context, payerRef, reason, reference, currency string, amount int64) (*ChargeResponse, error) {
	reqPayload := ChargeRequest{}
	reqPayload.Data.Type = "ChargeIntent"
	reqPayload.Data.Attributes.Currency = currency
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Attributes.Reason = reason
	reqPayload.Data.Attributes.Reference = reference
	reqPayload.Data.Relationships.Payer.Data.Type = "PaymentMethod"
	reqPayload.Data.Relationships.Payer.Data.ID = payerRef

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/charges", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-gateway-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute charge request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read charge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=gateway_client op=charge status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=gateway_client op=charge status=%d title=%q detail=%q", resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp ChargeResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}

// GetChargeStatus fetches the current status of a charge intent. Used by the
// reconciliation path when an outcome event was missed.
func (c *Client) GetChargeStatus(ctx context.Context, intentID string) (*ChargeStatusResponse, error) {
	url := c.BaseURL + "/api/v1/charges/" + intentID

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create charge status request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-gateway-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute charge status request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read charge status response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=gateway_client op=charge_status intent_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", intentID, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=gateway_client op=charge_status intent_id=%s status=%d title=%q detail=%q", intentID, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var statusResp ChargeStatusResponse
	if err := json.Unmarshal(bodyBytes, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to decode charge status response: %w", err)
	}

	return &statusResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
