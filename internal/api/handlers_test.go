package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"slotopt/internal/auth"
	"slotopt/internal/model"
	"slotopt/internal/runs"
	"slotopt/internal/store"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, verifier *auth.Verifier) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	broker := NewBroker()
	svc := runs.NewService(runs.Options{Store: st, Events: RunEvents(broker), Log: log})
	t.Cleanup(svc.Close)
	return NewServer(svc, st, broker, verifier, log)
}

// flights builds three flights whose best allocation is A, B, C in slot order.
func flights() ([]model.FlightIn, []model.SlotIn) {
	var fs []model.FlightIn
	for i, id := range []string{"A", "B", "C"} {
		w1, w2 := []float64{1, 1, 1}, []float64{1, 1, 1}
		w1[i], w2[i] = 10, 5
		fs = append(fs, model.FlightIn{FlightID: id, WeightMap: w1, WeightMapTwo: w2})
	}
	var slots []model.SlotIn
	for i := 0; i < 3; i++ {
		slots = append(slots, model.SlotIn{SlotID: fmt.Sprintf("S%d", i), Time: t0.Add(time.Duration(i) * 10 * time.Minute)})
	}
	return fs, slots
}

func optimizationBody(params string) []byte {
	fs, slots := flights()
	b, _ := json.Marshal(model.OptimizationRequest{
		Flights:               fs,
		Slots:                 slots,
		InitialFlightSequence: []string{"B", "A", "C"},
		Parameters:            json.RawMessage(params),
	})
	return b
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func createRun(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/optimizations", optimizationBody(`{"populationSize":12,"seed":7,"terminationConditions":{"BY_FIXED_GENERATION":10}}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var out model.OptimizationOut
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "INITIALIZED" || out.OptID == "" {
		t.Fatalf("unexpected run %+v", out)
	}
	return out.OptID
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Routes()
	if rr := do(t, h, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("health: got %d", rr.Code)
	}
	s.Ready = func(context.Context) error { return fmt.Errorf("database down") }
	if rr := do(t, h, http.MethodGet, "/readyz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestOptimizationLifecycle(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	id := createRun(t, h)

	rr := do(t, h, http.MethodPost, "/v1/optimizations/"+id+"/run?wait=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("run: %d %s", rr.Code, rr.Body.String())
	}
	var best model.ResultOut
	if err := json.Unmarshal(rr.Body.Bytes(), &best); err != nil {
		t.Fatal(err)
	}
	if strings.Join(best.OptimizedFlightSequence, ",") != "A,B,C" || best.Fitness[0] != 30 {
		t.Fatalf("unexpected best %+v", best)
	}

	rr = do(t, h, http.MethodGet, "/v1/optimizations/"+id+"/statistics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("statistics: %d", rr.Code)
	}
	var st map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st["status"] != "DONE" || st["iterations"] != float64(10) {
		t.Fatalf("unexpected statistics %v", st)
	}

	rr = do(t, h, http.MethodGet, "/v1/optimizations/"+id+"/results?limit=1", nil)
	var res []model.ResultOut
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil || len(res) != 1 {
		t.Fatalf("results: %d %s", rr.Code, rr.Body.String())
	}
	if strings.Join(res[0].SlotIDs, ",") != "S0,S1,S2" {
		t.Fatalf("slots %v", res[0].SlotIDs)
	}

	// a finished run cannot be started or aborted again
	if rr := do(t, h, http.MethodPost, "/v1/optimizations/"+id+"/run", nil); rr.Code != http.StatusConflict {
		t.Fatalf("rerun: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/optimizations/"+id+"/abort", nil); rr.Code != http.StatusConflict {
		t.Fatalf("abort done: %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/optimizations?limit=10", nil)
	var list model.List[model.OptimizationOut]
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil || len(list.Items) != 1 || list.Items[0].Status != "DONE" {
		t.Fatalf("list: %s", rr.Body.String())
	}

	if rr := do(t, h, http.MethodDelete, "/v1/optimizations/"+id, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/optimizations/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rr.Code)
	}
}

func TestAbortInitialized(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	id := createRun(t, h)
	rr := do(t, h, http.MethodPost, "/v1/optimizations/"+id+"/abort", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("abort: %d %s", rr.Code, rr.Body.String())
	}
	var out model.OptimizationOut
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out.Status != "CANCELLED" {
		t.Fatalf("status %s", out.Status)
	}
	if rr := do(t, h, http.MethodGet, "/v1/optimizations/"+id+"/results", nil); rr.Code != http.StatusConflict {
		t.Fatalf("results of aborted run: %d", rr.Code)
	}
}

func TestCreateErrors(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	cases := []struct {
		name string
		body []byte
		code int
	}{
		{"malformed", []byte(`{"flights":`), http.StatusBadRequest},
		{"missing flights", []byte(`{"slots":[{"time":"2024-05-01T08:00:00Z"}]}`), http.StatusBadRequest},
		{"bad method", []byte(strings.Replace(string(optimizationBody("")), `"flights"`, `"method":"GREEDY","flights"`, 1)), http.StatusBadRequest},
		{"unknown parameter", optimizationBody(`{"bogus":1}`), http.StatusUnprocessableEntity},
		{"unknown mutator", optimizationBody(`{"mutator":"NOPE"}`), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/optimizations", tc.body)
			if rr.Code != tc.code {
				t.Fatalf("got %d want %d: %s", rr.Code, tc.code, rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("content type %q", ct)
			}
		})
	}
	if rr := do(t, h, http.MethodGet, "/v1/optimizations/nope/statistics", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown run: %d", rr.Code)
	}
}

func TestAssignments(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	fs, slots := flights()
	body, _ := json.Marshal(model.AssignmentRequest{Flights: fs, Slots: slots})
	rr := do(t, h, http.MethodPost, "/v1/assignments/optimum", body)
	var opt model.OptimumOut
	if err := json.Unmarshal(rr.Body.Bytes(), &opt); err != nil || rr.Code != http.StatusOK {
		t.Fatalf("optimum: %d %s", rr.Code, rr.Body.String())
	}
	if opt.Value != 30 || strings.Join(opt.FlightSequence, ",") != "A,B,C" {
		t.Fatalf("optimum %+v", opt)
	}

	body, _ = json.Marshal(model.AssignmentRequest{Flights: fs, Slots: slots, Granularity: 4})
	rr = do(t, h, http.MethodPost, "/v1/assignments/front", body)
	var front model.FrontOut
	if err := json.Unmarshal(rr.Body.Bytes(), &front); err != nil || rr.Code != http.StatusOK {
		t.Fatalf("front: %d %s", rr.Code, rr.Body.String())
	}
	if len(front.TheoreticalMaxima) != 2 || front.TheoreticalMaxima[0] != 30 || front.TheoreticalMaxima[1] != 15 {
		t.Fatalf("maxima %v", front.TheoreticalMaxima)
	}
	if len(front.Front) != 1 || front.Front[0] != [2]float64{30, 15} {
		t.Fatalf("front %v", front.Front)
	}

	fs[1].WeightMapTwo = nil
	body, _ = json.Marshal(model.AssignmentRequest{Flights: fs, Slots: slots})
	if rr := do(t, h, http.MethodPost, "/v1/assignments/front", body); rr.Code != http.StatusBadRequest {
		t.Fatalf("front without second weights: %d", rr.Code)
	}
}

func TestOperators(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	rr := do(t, h, http.MethodGet, "/v1/operators", nil)
	var out map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"methods", "mutators", "crossovers", "singleObjectiveSelectors", "dualObjectiveSelectors", "fitnessEstimators", "defaults"} {
		if len(out[k]) == 0 {
			t.Fatalf("missing %s in %s", k, rr.Body.String())
		}
	}
	if !bytes.Contains(out["mutators"], []byte("SWAP_MUTATOR")) {
		t.Fatalf("mutators %s", out["mutators"])
	}
}

func TestSubscriptionsAndAdmin(t *testing.T) {
	v := auth.NewVerifier("test-secret")
	s := newTestServer(t, v)
	h := s.Routes()

	rr := do(t, h, http.MethodPost, "/v1/subscriptions", []byte(`{"url":"http://hook.example/x","events":["optimization.finished"]}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create subscription: %d %s", rr.Code, rr.Body.String())
	}
	var sub model.Subscription
	_ = json.Unmarshal(rr.Body.Bytes(), &sub)
	if rr := do(t, h, http.MethodPost, "/v1/subscriptions", []byte(`{"url":"http://hook.example/x","events":["route.updated"]}`)); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad event type: %d", rr.Code)
	}
	if _, err := s.Store.EnqueueWebhook(context.Background(), sub.ID, "optimization.finished", sub.URL, "", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	if rr := do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rr.Code)
	}
	viewer, _ := v.Issue("u1", "viewer", time.Minute)
	if rr := do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries", nil, "Authorization", "Bearer "+viewer); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer: %d", rr.Code)
	}
	admin, _ := v.Issue("ops", auth.RoleAdmin, time.Minute)
	rr = do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries?status=pending", nil, "Authorization", "Bearer "+admin)
	var dres struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &dres); err != nil || rr.Code != http.StatusOK {
		t.Fatalf("deliveries: %d %s", rr.Code, rr.Body.String())
	}
	if len(dres.Items) != 1 {
		t.Fatalf("expected one delivery, got %d", len(dres.Items))
	}

	if rr := do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete subscription: %d", rr.Code)
	}
}

func TestOpenAPI(t *testing.T) {
	h := newTestServer(t, nil).Routes()
	rr := do(t, h, http.MethodGet, "/openapi.json", nil)
	var doc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("openapi.json: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/optimizations/{id}/run"]; !ok {
		t.Fatalf("run path missing")
	}
	if rr := do(t, h, http.MethodGet, "/swagger", nil); rr.Code != http.StatusOK {
		t.Fatalf("swagger: %d", rr.Code)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	mu   sync.Mutex
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}
func (r *sseRecorder) Flush() {}

func (r *sseRecorder) contains(s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Contains(r.buf.String(), s)
}

func TestOptimizationEventsSSE(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Routes()
	id := createRun(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/optimizations/"+id+"/events", nil).WithContext(ctx)
	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	// give the handler time to subscribe and send the heartbeat
	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(id, Event{Type: runs.EventProgress, Data: map[string]any{"generation": 3}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && !rec.contains("event: "+runs.EventProgress) {
		time.Sleep(10 * time.Millisecond)
	}
	if !rec.contains("event: " + runs.EventProgress) {
		t.Fatalf("SSE did not contain progress event")
	}
	if !rec.contains("event: heartbeat") {
		t.Fatalf("SSE did not start with a heartbeat")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestOptimizationWebsocket(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()
	id := createRun(t, s.Routes())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/optimizations/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the server subscribes right after the upgrade; run the search to publish events
	time.Sleep(50 * time.Millisecond)
	go func() { _, _ = s.Runs.Run(context.Background(), id) }()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read: %v", err)
		}
		if evt.Type == runs.EventProgress {
			return
		}
	}
}
