package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"slotopt/internal/model"
)

// Run is the persisted record of one optimization. Request, statistics and results are
// stored as JSON documents owned by the run lifecycle.
type Run struct {
	ID         string
	Method     string
	Status     string
	Request    json.RawMessage
	Statistics json.RawMessage
	Results    json.RawMessage
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is the persistence interface used by the run service, the API server and the
// webhook worker.
type Store interface {
	// Runs; SaveRun replaces any record with the same id.
	SaveRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, cursor string, limit int) ([]Run, string, error)
	DeleteRun(ctx context.Context, id string) error

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
}

var ErrNotFound = errors.New("not found")
