package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"commerce-service/internal/apperr"
	"commerce-service/internal/util"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gateway transaction statuses
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// PaymentRequest is sent to the gateway for a card payment
type PaymentRequest struct {
	OrderID        int64  `json:"orderId"`
	CardType       string `json:"cardType"`
	CardNo         string `json:"cardNo"`
	Amount         int64  `json:"amount"`
	CallbackURL    string `json:"callbackUrl"`
	TransactionKey string `json:"transactionKey"`
}

// Transaction is the gateway's view of a payment
type Transaction struct {
	TransactionKey string `json:"transactionKey"`
	OrderID        int64  `json:"orderId,string"`
	Status         string `json:"status"`
	Reason         string `json:"reason"`
}

type envelope struct {
	Meta struct {
		Result    string `json:"result"`
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// Config for the gateway client
type Config struct {
	BaseURL        string
	CallbackURL    string
	MerchantID     string
	Timeout        time.Duration
	RequestsPerSec float64
}

// Client talks to the card payment gateway behind a circuit breaker and a
// client-side rate limit.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient creates a gateway client
func NewClient(cfg Config) *Client {
	burst := int(cfg.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !apperr.Is(err, apperr.KindTransientInfra)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			util.GetLogger().Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
	}
}

// CallbackURL is where the gateway reports results
func (c *Client) CallbackURL() string {
	return c.cfg.CallbackURL
}

// RequestPayment submits a card payment. The outcome arrives later on the
// callback URL.
func (c *Client) RequestPayment(ctx context.Context, req PaymentRequest) error {
	if req.CallbackURL == "" {
		req.CallbackURL = c.cfg.CallbackURL
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal payment request: %w", err)
	}

	_, err = c.do(ctx, "request", http.MethodPost, "/api/v1/payments", body)
	return err
}

// GetTransaction queries the status of a transaction by key
func (c *Client) GetTransaction(ctx context.Context, transactionKey string) (*Transaction, error) {
	data, err := c.do(ctx, "status", http.MethodGet, "/api/v1/payments/"+url.PathEscape(transactionKey), nil)
	if err != nil {
		return nil, err
	}

	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "malformed gateway transaction")
	}
	if tx.TransactionKey == "" {
		tx.TransactionKey = transactionKey
	}
	return &tx, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Transient(err, "gateway rate limit wait aborted")
	}

	start := time.Now()
	defer func() {
		util.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, method, path, body)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apperr.Transient(err, "payment gateway circuit open")
	}
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-USER-ID", c.cfg.MerchantID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Transient(err, "payment gateway unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transient(err, "failed to read gateway response")
	}

	// error bodies are best effort; a 2xx must decode
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode >= 500:
		return nil, apperr.Transient(fmt.Errorf("status %d", resp.StatusCode), "payment gateway error")
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFound("gateway transaction not found: %s", env.Meta.Message)
	case resp.StatusCode >= 400:
		return nil, apperr.Validation("gateway rejected request: %s %s", env.Meta.ErrorCode, env.Meta.Message)
	}
	if decodeErr != nil {
		return nil, apperr.Wrap(decodeErr, apperr.KindInternal, "malformed gateway response")
	}
	return env.Data, nil
}
