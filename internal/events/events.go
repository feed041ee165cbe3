package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	TypeScheduleSaved = "schedule.saved"
	TypeReportSent    = "report.sent"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// ScheduleSaved is published after a worker's day schedule is stored.
type ScheduleSaved struct {
	WorkerID        int64    `json:"worker_id"`
	TelegramID      int64    `json:"telegram_id"`
	City            string   `json:"city"`
	Date            string   `json:"date"`
	Intervals       []string `json:"intervals"`
	NonWorkingHours float64  `json:"non_working_hours"`
}

// ReportSent is published after a city report reached an admin.
type ReportSent struct {
	AdminID         int64   `json:"admin_id"`
	City            string  `json:"city"`
	Date            string  `json:"date"`
	Workers         int     `json:"workers"`
	Submitted       int     `json:"submitted"`
	NonWorkingHours float64 `json:"non_working_hours"`
	Hours           []int   `json:"hours"`
	Counts          []int   `json:"counts"`
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	l := logger.With().Str("component", "events").Logger()
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: &l}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish encodes payload and notifies subscribers of evType. Handlers run
// synchronously; a failing handler is logged and does not stop the others.
func (b *EventBus) Publish(ctx context.Context, evType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", evType, err)
	}
	event := Event{
		ID:        uuid.New().String(),
		Type:      evType,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[evType]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().Err(err).
				Str("event_id", event.ID).
				Str("type", evType).
				Msg("event handler failed")
		}
	}
	return nil
}
