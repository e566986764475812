package webhooks

import (
	"sort"
	"sync"
	"time"
)

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryStatusPending     DeliveryStatus = "pending"
	DeliveryStatusSuccess     DeliveryStatus = "success"
	DeliveryStatusFailed      DeliveryStatus = "failed"
	DeliveryStatusRateLimited DeliveryStatus = "rate_limited"
)

// DeliveryLog records one delivery attempt. Failed deliveries are not
// retried.
type DeliveryLog struct {
	ID           string         `json:"id"`
	WebhookID    int64          `json:"webhook_id"`
	EventID      string         `json:"event_id"`
	EventType    EventType      `json:"event_type"`
	URL          string         `json:"url"`
	Status       DeliveryStatus `json:"status"`
	StatusCode   int            `json:"status_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`
}

// DeliveryLogStore keeps the most recent deliveries in memory
type DeliveryLogStore struct {
	logs    map[string]*DeliveryLog
	order   []string
	mutex   sync.RWMutex
	maxLogs int
}

// NewDeliveryLogStore creates a store holding at most maxLogs entries
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]*DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Add adds a delivery log, evicting the oldest when full
func (s *DeliveryLogStore) Add(log *DeliveryLog) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.logs[log.ID]; !exists {
		s.order = append(s.order, log.ID)
	}
	copied := *log
	s.logs[log.ID] = &copied

	for len(s.order) > s.maxLogs {
		delete(s.logs, s.order[0])
		s.order = s.order[1:]
	}
}

// Update replaces a delivery log that is still held
func (s *DeliveryLogStore) Update(log *DeliveryLog) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.logs[log.ID]; exists {
		copied := *log
		s.logs[log.ID] = &copied
	}
}

// Get retrieves a delivery log by ID
func (s *DeliveryLogStore) Get(id string) (*DeliveryLog, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	log, exists := s.logs[id]
	if !exists {
		return nil, false
	}
	copied := *log
	return &copied, true
}

// GetByWebhook returns a webhook's deliveries, newest first
func (s *DeliveryLogStore) GetByWebhook(webhookID int64, limit int) []*DeliveryLog {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []*DeliveryLog
	for _, log := range s.logs {
		if log.WebhookID == webhookID {
			copied := *log
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Len returns the number of held logs
func (s *DeliveryLogStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.logs)
}

// GetStats returns delivery statistics for a webhook
func (s *DeliveryLogStore) GetStats(webhookID int64) DeliveryStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := DeliveryStats{WebhookID: webhookID}
	for _, log := range s.logs {
		if log.WebhookID != webhookID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
			stats.TotalDuration += log.Duration
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRateLimited:
			stats.RateLimited++
		}
	}
	if stats.Successful > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

// DeliveryStats represents delivery statistics
type DeliveryStats struct {
	WebhookID       int64         `json:"webhook_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	RateLimited     int           `json:"rate_limited"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalDuration   time.Duration `json:"total_duration"`
}
