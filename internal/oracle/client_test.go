package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOrderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/optimizations/run-1/populations/order" {
			t.Errorf("path %s", r.URL.Path)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.OptimizationID != "run-1" || req.Objective != 1 || len(req.Population) != 2 {
			t.Errorf("request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(orderResponse{Order: []int{1, 0}, Maximum: 42})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "run-1", 0, 0)
	order, max, err := c.Order(context.Background(), 1, [][]int{{0, 1}, {1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != 1 || max != 42 {
		t.Fatalf("order %v max %v", order, max)
	}
}

func TestAboveDefaultsHighest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"indices":[0,2],"maximumImproved":true}`))
	}))
	defer srv.Close()

	indices, improved, highest, err := New(srv.URL, "x", 100, 0).Above(context.Background(), 0, [][]int{{0}, {0}, {0}}, true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(indices) != 2 || !improved || highest != -1 {
		t.Fatalf("indices %v improved %v highest %d", indices, improved, highest)
	}
}

func TestFailureIsOracleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown optimization", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "x", 0, 0).ActualValues(context.Background(), 0, [][]int{{0}})
	var oerr *Error
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if oerr.Status != http.StatusNotFound || oerr.Op != "actual-values" {
		t.Fatalf("error %+v", oerr)
	}
}
