package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// EventType represents the type of notification
type EventType string

const (
	EventOrderPaid     EventType = "order.paid"
	EventOrderFailed   EventType = "order.failed"
	EventOrderRefunded EventType = "order.refunded"
	EventKYCReviewed   EventType = "kyc.reviewed"
)

// EventTypes lists every event a webhook can subscribe to
var EventTypes = []EventType{EventOrderPaid, EventOrderFailed, EventOrderRefunded, EventKYCReviewed}

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SignatureHeader carries the delivery signature
const SignatureHeader = "X-Sellhub-Signature"

var (
	ErrNotFound     = errors.New("webhook not found")
	ErrInvalidURL   = errors.New("webhook URL must be an absolute http or https URL")
	ErrNoEvents     = errors.New("at least one event type is required")
	ErrUnknownEvent = errors.New("unknown event type")
)

// Event represents a notification sent to a producer
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	AccountID int64       `json:"account_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook represents a registered endpoint
type Webhook struct {
	ID          int64       `json:"id"`
	AccountID   int64       `json:"account_id"`
	URL         string      `json:"url"`
	Events      []EventType `json:"events"`
	Secret      string      `json:"secret,omitempty"`
	Active      bool        `json:"active"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Subscribed reports whether the webhook wants events of type t
func (w *Webhook) Subscribed(t EventType) bool {
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}

// CreateWebhookRequest registers an endpoint
type CreateWebhookRequest struct {
	URL         string      `json:"url" validate:"required,url"`
	Events      []EventType `json:"events" validate:"required,min=1,dive,required"`
	Description string      `json:"description" validate:"max=500"`
}

// UpdateWebhookRequest changes an endpoint
type UpdateWebhookRequest struct {
	URL         *string     `json:"url,omitempty" validate:"omitempty,url"`
	Events      []EventType `json:"events,omitempty"`
	Active      *bool       `json:"active,omitempty"`
	Description *string     `json:"description,omitempty" validate:"omitempty,max=500"`
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

func validateEvents(events []EventType) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	for _, e := range events {
		if !e.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownEvent, e)
		}
	}
	return nil
}

// VerifySignature verifies the webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func generateSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

// Store persists webhook registrations
type Store interface {
	Create(ctx context.Context, accountID int64, req *CreateWebhookRequest) (*Webhook, error)
	Get(ctx context.Context, accountID, id int64) (*Webhook, error)
	List(ctx context.Context, accountID int64) ([]*Webhook, error)
	ListSubscribed(ctx context.Context, accountID int64, eventType EventType) ([]*Webhook, error)
	Update(ctx context.Context, accountID, id int64, req *UpdateWebhookRequest) (*Webhook, error)
	Delete(ctx context.Context, accountID, id int64) error
}
