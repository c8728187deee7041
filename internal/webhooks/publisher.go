package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"slotopt/internal/store"
)

// Run lifecycle events.
const (
	EventFinished = "optimization.finished"
	EventAborted  = "optimization.aborted"
	EventFailed   = "optimization.failed"
)

// Event is the envelope posted to subscribers and published to the queue.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	TS   string `json:"ts"`
	Data any    `json:"data"`
}

func NewEvent(eventType string, data any) Event {
	return Event{
		ID:   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		Type: eventType,
		TS:   time.Now().UTC().Format(time.RFC3339),
		Data: data,
	}
}

type Publisher struct {
	Store store.Store
	Log   *slog.Logger
}

func NewPublisher(s store.Store, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{Store: s, Log: log}
}

// Emit enqueues one delivery per subscription listening to eventType.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		p.Log.Warn("webhook subscriptions lookup failed", "event", eventType, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(NewEvent(eventType, data))
	if err != nil {
		p.Log.Error("webhook payload encode failed", "event", eventType, "error", err)
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Log.Warn("webhook enqueue failed", "event", eventType, "subscription", s.ID, "error", err)
		}
	}
}
