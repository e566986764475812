package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/sellhub/pkg/observability"
)

// Config tunes delivery
type Config struct {
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	DeliveryLogSize int
}

// Dispatcher delivers events to the webhooks an account registered. Each
// delivery is attempted once, in the background, and recorded in a bounded
// in-memory log.
type Dispatcher struct {
	store       Store
	client      *http.Client
	deliveries  *DeliveryLogStore
	rateLimiter *RateLimiter
	timeout     time.Duration
	metrics     *observability.Metrics
	logger      *observability.Logger
	wg          sync.WaitGroup
}

// NewDispatcher creates a dispatcher
func NewDispatcher(store Store, cfg Config, metrics *observability.Metrics, logger *observability.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		deliveries:  NewDeliveryLogStore(cfg.DeliveryLogSize),
		rateLimiter: NewRateLimiter(cfg.RatePerSecond, cfg.Burst),
		timeout:     cfg.Timeout,
		metrics:     metrics,
		logger:      logger.WithField("component", "webhooks"),
	}
}

// Publish sends an event to the account's subscribed webhooks. It never
// blocks on delivery and never fails the caller.
func (d *Dispatcher) Publish(ctx context.Context, accountID int64, eventType string, data interface{}) {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      EventType(eventType),
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := d.Dispatch(ctx, event); err != nil {
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"account_id": accountID,
			"event":      eventType,
		}).Warn("Failed to dispatch webhook event")
	}
}

// Dispatch queues deliveries of event to every subscribed webhook
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	if !event.Type.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event.Type)
	}
	webhooks, err := d.store.ListSubscribed(ctx, event.AccountID, event.Type)
	if err != nil {
		return err
	}
	if len(webhooks) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	for _, webhook := range webhooks {
		log := &DeliveryLog{
			ID:        uuid.NewString(),
			WebhookID: webhook.ID,
			EventID:   event.ID,
			EventType: event.Type,
			URL:       webhook.URL,
			Status:    DeliveryStatusPending,
			CreatedAt: time.Now(),
		}
		d.deliveries.Add(log)

		webhook := webhook
		d.wg.Add(1)
		observability.Go(d.logger, "webhook-delivery", func() {
			defer d.wg.Done()
			d.deliver(webhook, event, payload, log)
		})
	}
	return nil
}

func (d *Dispatcher) deliver(webhook *Webhook, event *Event, payload []byte, log *DeliveryLog) {
	start := time.Now()
	if !d.rateLimiter.Allow(webhook.ID) {
		log.Status = DeliveryStatusRateLimited
		log.ErrorMessage = "rate limit exceeded"
	} else {
		statusCode, err := d.send(webhook, event, payload)
		log.StatusCode = statusCode
		if err != nil {
			log.Status = DeliveryStatusFailed
			log.ErrorMessage = err.Error()
		} else {
			log.Status = DeliveryStatusSuccess
		}
	}

	now := time.Now()
	log.CompletedAt = &now
	log.Duration = now.Sub(start)
	d.deliveries.Update(log)

	if d.metrics != nil {
		d.metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), string(log.Status)).Inc()
	}
	if log.Status != DeliveryStatusSuccess {
		d.logger.WithFields(map[string]interface{}{
			"webhook_id": webhook.ID,
			"event_id":   event.ID,
			"status":     log.Status,
			"error":      log.ErrorMessage,
		}).Warn("Webhook delivery failed")
	}
}

func (d *Dispatcher) send(webhook *Webhook, event *Event, payload []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sellhub-webhooks/1")
	req.Header.Set("X-Sellhub-Event", string(event.Type))
	req.Header.Set("X-Sellhub-Event-ID", event.ID)
	req.Header.Set(SignatureHeader, generateSignature(payload, webhook.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Deliveries returns the recent deliveries of a webhook
func (d *Dispatcher) Deliveries(webhookID int64, limit int) []*DeliveryLog {
	return d.deliveries.GetByWebhook(webhookID, limit)
}

// Stats returns delivery statistics of a webhook
func (d *Dispatcher) Stats(webhookID int64) DeliveryStats {
	return d.deliveries.GetStats(webhookID)
}

// Wait blocks until in-flight deliveries finish or ctx ends
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
