// Package oracle talks to the privacy engine, the service that knows the true
// preference values and only answers with relative signals.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"slotopt/internal/metrics"
)

// Error is returned for any failed privacy engine call. Callers treat it as fatal.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oracle %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("oracle %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Client struct {
	BaseURL        string
	OptimizationID string
	HTTP           *http.Client
	Limiter        *rate.Limiter
}

// New returns a client limited to rps requests per second (unlimited when rps <= 0).
func New(baseURL, optimizationID string, rps float64, timeout time.Duration) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		OptimizationID: optimizationID,
		HTTP:           &http.Client{Timeout: timeout},
		Limiter:        lim,
	}
}

type request struct {
	OptimizationID string  `json:"optimizationId"`
	Objective      int     `json:"objective"`
	Population     [][]int `json:"population"`
	Relative       bool    `json:"relative,omitempty"`
	Percentage     float64 `json:"percentage,omitempty"`
	Precision      int     `json:"precision,omitempty"`
}

type orderResponse struct {
	Order   []int   `json:"order"`
	Maximum float64 `json:"maximum"`
}

type aboveResponse struct {
	Indices         []int `json:"indices"`
	MaximumImproved bool  `json:"maximumImproved"`
	Highest         int   `json:"highest"`
}

type quantilesResponse struct {
	Quantiles []int   `json:"quantiles"`
	Maximum   float64 `json:"maximum"`
}

type valuesResponse struct {
	Values []float64 `json:"values"`
}

func (c *Client) Order(ctx context.Context, objective int, population [][]int) ([]int, float64, error) {
	var out orderResponse
	err := c.call(ctx, "order", request{Objective: objective, Population: population}, &out)
	return out.Order, out.Maximum, err
}

func (c *Client) Above(ctx context.Context, objective int, population [][]int, relative bool, percentage float64) ([]int, bool, int, error) {
	out := aboveResponse{Highest: -1}
	err := c.call(ctx, "above", request{Objective: objective, Population: population, Relative: relative, Percentage: percentage}, &out)
	return out.Indices, out.MaximumImproved, out.Highest, err
}

func (c *Client) Quantiles(ctx context.Context, objective int, population [][]int, precision int) ([]int, float64, error) {
	var out quantilesResponse
	err := c.call(ctx, "quantiles", request{Objective: objective, Population: population, Precision: precision}, &out)
	return out.Quantiles, out.Maximum, err
}

func (c *Client) ActualValues(ctx context.Context, objective int, population [][]int) ([]float64, error) {
	var out valuesResponse
	err := c.call(ctx, "actual-values", request{Objective: objective, Population: population}, &out)
	return out.Values, err
}

func (c *Client) call(ctx context.Context, op string, body request, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.OracleRequests.WithLabelValues(op, status).Inc()
		metrics.OracleLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if err := c.Limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Err: err}
	}
	body.OptimizationID = c.OptimizationID
	b, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	url := c.BaseURL + "/optimizations/" + c.OptimizationID + "/populations/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
