package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Gateway callback event types, mirroring the external provider's wire
// format.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// Event is a verified gateway callback. Amounts are integer minor units on
// the wire; the payment service reconciles against its own rows, so only
// the correlation fields matter here.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object EventObject `json:"object"`
	} `json:"data"`
}

type EventObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error,omitempty"`
}

// OrderID extracts the order correlation metadata; empty when the callback
// cannot be matched to anything.
func (o EventObject) OrderID() string {
	return o.Metadata["orderId"]
}

func (o EventObject) FailureReason() string {
	if o.LastPaymentError != nil && o.LastPaymentError.Message != "" {
		return o.LastPaymentError.Message
	}
	return "unknown error"
}

type IntentRequest struct {
	OrderID        string
	UserID         string
	Amount         float64
	Currency       string
	IdempotencyKey string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type RefundRequest struct {
	IntentID string
	Amount   float64
	Reason   string
}

type RefundResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Gateway opens payment intents and refunds against the external provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// HTTPClient talks to the provider's REST API. Every call runs under a
// bounded timeout inside a circuit breaker; the unbounded-retry policy is
// reserved for the broker connection, not for synchronous calls.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
}

func NewHTTPClient(baseURL, apiKey string, logger *zap.Logger) *HTTPClient {
	settings := gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		logger:  logger,
	}
}

func (c *HTTPClient) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	body := map[string]interface{}{
		"amount":   toMinorUnits(req.Amount),
		"currency": req.Currency,
		"metadata": map[string]string{
			"orderId": req.OrderID,
			"userId":  req.UserID,
		},
	}
	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}

	respBody, err := c.post(ctx, "/v1/payment_intents", body, headers)
	if err != nil {
		c.logger.Error("Gateway intent creation failed", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, err
	}

	intent := &Intent{}
	if err := json.Unmarshal(respBody, intent); err != nil {
		return nil, fmt.Errorf("failed to decode intent response: %w", err)
	}
	c.logger.Info("Gateway payment intent opened",
		zap.String("intent_id", intent.ID),
		zap.String("order_id", req.OrderID))
	return intent, nil
}

func (c *HTTPClient) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]interface{}{
		"payment_intent": req.IntentID,
		"amount":         toMinorUnits(req.Amount),
		"reason":         req.Reason,
	}

	respBody, err := c.post(ctx, "/v1/refunds", body, nil)
	if err != nil {
		c.logger.Error("Gateway refund creation failed", zap.String("intent_id", req.IntentID), zap.Error(err))
		return nil, err
	}

	result := &RefundResult{}
	if err := json.Unmarshal(respBody, result); err != nil {
		return nil, fmt.Errorf("failed to decode refund response: %w", err)
	}
	c.logger.Info("Gateway refund created",
		zap.String("refund_id", result.ID),
		zap.String("intent_id", req.IntentID))
	return result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("gateway request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read gateway response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, respBody)
		}
		return respBody, nil
	})
}

func toMinorUnits(amount float64) int64 {
	return int64(amount*100 + 0.5)
}
