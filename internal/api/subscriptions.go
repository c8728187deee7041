package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"slotopt/internal/model"
)

// CreateSubscription handles POST /v1/subscriptions
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req model.SubscriptionRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.Store.CreateSubscription(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	items, next, err := s.Store.ListSubscriptions(r.Context(), r.URL.Query().Get("cursor"), intQuery(r, "limit", 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.List[model.Subscription]{Items: items, NextCursor: next})
}

func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDeliveries handles GET /v1/admin/webhook-deliveries?status=&limit=
func (s *Server) WebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.ListWebhookDeliveries(r.Context(), r.URL.Query().Get("status"), intQuery(r, "limit", 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) RetryWebhookDelivery(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.RetryWebhookDelivery(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
