package webhooks

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"slotopt/internal/metrics"
	"slotopt/internal/store"
)

// Worker polls the delivery queue and posts due payloads.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	MaxAttempts int
	// Secret signs deliveries whose subscription carries none.
	Secret   string
	Interval time.Duration
	Log      *slog.Logger
}

func NewWorker(s store.Store, maxAttempts int, secret string, log *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		Secret:      secret,
		Interval:    time.Second,
		Log:         log,
	}
}

// Start polls until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.processOnce(ctx)
			}
		}
	}()
}

func (w *Worker) processOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		w.Log.Warn("webhook fetch failed", "error", err)
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	next := time.Now().Add(nextBackoff(it.Attempts))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, "invalid").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	if secret := firstNonEmpty(it.Secret, w.Secret); secret != "" {
		ts := time.Now().Unix()
		req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
		req.Header.Set(SignatureHeader, Sign(secret, ts, it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	code := 0
	success := false
	if err == nil {
		code = resp.StatusCode
		_ = resp.Body.Close()
		success = code >= 200 && code < 300
	}
	lastErr := ""
	switch {
	case err != nil:
		lastErr = err.Error()
	case !success:
		lastErr = "status " + strconv.Itoa(code)
	}
	status := "delivered"
	if !success {
		status = "retry"
		if it.Attempts+1 >= w.MaxAttempts {
			status = "failed"
		}
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
	if status == "failed" {
		w.Log.Warn("webhook delivery failed", "id", it.ID, "url", it.URL, "attempts", it.Attempts+1, "error", lastErr)
		_ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
		return
	}
	_ = w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency)
}

func nextBackoff(attempts int) time.Duration {
	attempts = min(max(attempts, 0), 10)
	return min(time.Second*time.Duration(1<<attempts), time.Hour)
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
