package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/sellhub/pkg/money"
	"github.com/platinummonkey/sellhub/pkg/observability"
)

// HTTPConfig configures the HTTP gateway
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint
	// RetryDelay is the initial backoff between attempts
	RetryDelay time.Duration
}

// HTTPGateway is a JSON-over-HTTP processor client. Transport errors and 5xx
// responses are retried with backoff under the same idempotency key.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	attempts   uint
	retryDelay time.Duration
	metrics    *observability.Metrics
	logger     *observability.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates an HTTP gateway
func NewHTTPGateway(cfg HTTPConfig, metrics *observability.Metrics, logger *observability.Logger) (*HTTPGateway, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid processor URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		attempts:   cfg.MaxRetries + 1,
		retryDelay: cfg.RetryDelay,
		metrics:    metrics,
		logger:     logger.WithField("component", "processor"),
	}, nil
}

// CreateCharge creates a charge keyed by the order reference
func (g *HTTPGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	var charge Charge
	if err := g.do(ctx, "create_charge", http.MethodPost, "/v1/charges", req.Reference, req, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// GetCharge fetches the current state of a charge
func (g *HTTPGateway) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if err := g.do(ctx, "get_charge", http.MethodGet, "/v1/charges/"+url.PathEscape(chargeID), "", nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// Refund requests a refund of amount cents
func (g *HTTPGateway) Refund(ctx context.Context, chargeID string, amount money.Cents) (*Charge, error) {
	key, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate idempotency key: %w", err)
	}
	body := map[string]money.Cents{"amount_cents": amount}
	var charge Charge
	if err := g.do(ctx, "refund", http.MethodPost, "/v1/charges/"+url.PathEscape(chargeID)+"/refunds", key.String(), body, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusError is a non-2xx processor response
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("processor returned %d: %s", e.StatusCode, e.Message)
}

func (g *HTTPGateway) do(ctx context.Context, op, method, path, idempotencyKey string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	start := time.Now()
	status := "error"
	defer func() {
		if g.metrics != nil {
			g.metrics.ProcessorRequestsTotal.WithLabelValues(op, status).Inc()
			g.metrics.ProcessorRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
	}()

	err := retry.Do(
		func() error {
			var body io.Reader
			if payload != nil {
				body = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Accept", "application/json")
			if payload != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			if g.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+g.apiKey)
			}
			if idempotencyKey != "" {
				req.Header.Set("Idempotency-Key", idempotencyKey)
			}

			resp, err := g.client.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			defer resp.Body.Close()
			status = strconv.Itoa(resp.StatusCode)

			if resp.StatusCode >= 300 {
				statusErr := readStatusError(resp)
				if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
					return fmt.Errorf("%w: %w", ErrUnavailable, statusErr)
				}
				return retry.Unrecoverable(mapStatusError(statusErr))
			}
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to decode processor response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.WithError(err).WithFields(map[string]interface{}{
				"operation": op,
				"attempt":   n + 1,
			}).Warn("Retrying processor request")
		}),
	)
	return err
}

func readStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body apiError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		statusErr.Message = body.Error
		statusErr.Code = body.Code
	}
	return statusErr
}

func mapStatusError(e *StatusError) error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrChargeNotFound, e)
	case e.Code == "refund_exceeds":
		return fmt.Errorf("%w: %w", ErrRefundExceeds, e)
	case e.Code == "not_refundable":
		return fmt.Errorf("%w: %w", ErrNotRefundable, e)
	case e.StatusCode == http.StatusPaymentRequired || e.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", ErrDeclined, e)
	}
	return e
}
