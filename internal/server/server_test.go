package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vanb/internal/discovery"
	"vanb/internal/engine"
	"vanb/internal/history"
	"vanb/internal/observability/metrics"
	"vanb/internal/pipeline"
)

type stubScanner struct {
	names []string
}

func (s *stubScanner) Scan(ctx context.Context, timeout time.Duration) ([]string, error) {
	return s.names, nil
}

type stubHandle struct {
	alive bool
}

func (h *stubHandle) Create() error       { return nil }
func (h *stubHandle) Start() error        { h.alive = true; return nil }
func (h *stubHandle) Stop()               { h.alive = false }
func (h *stubHandle) VerifyStream() bool  { return h.alive }
func (h *stubHandle) Stats() engine.Stats { return engine.Stats{State: "PLAYING"} }
func (h *stubHandle) Run() error          { return nil }

func newTestServer(t *testing.T, verifier *TokenVerifier) *httptest.Server {
	t.Helper()
	recorder := metrics.New()
	manager := discovery.NewManager(&stubScanner{names: []string{"Stage A"}}, nil, recorder)
	builder := pipeline.NewBuilder(manager, nil)
	factory := pipeline.NewFactoryWithConstructors(map[pipeline.Mode]pipeline.HandleConstructor{
		pipeline.ModeReceive:  func(cfg pipeline.Config) (engine.Handle, error) { return &stubHandle{}, nil },
		pipeline.ModeTransmit: func(cfg pipeline.Config) (engine.Handle, error) { return &stubHandle{}, nil },
	}, nil)
	coordinator := pipeline.NewCoordinator(builder, factory, history.NewMemoryStore(16), pipeline.Hooks{}, nil, recorder)
	t.Cleanup(func() { coordinator.StopPipeline(context.Background()) })

	srv, err := New(NewHandler(coordinator, manager), Config{
		Addr:     "127.0.0.1:0",
		Metrics:  recorder,
		Verifier: verifier,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestPipelineLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.Client()

	// Nothing running yet.
	resp, err := client.Get(ts.URL + "/v1/pipeline/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stats status = %d, want 404", resp.StatusCode)
	}

	body := strings.NewReader(`{"mode":"receive","params":{"rtmpUrl":"rtmp://in/live/key","ndiName":"Out"}}`)
	resp, err = client.Post(ts.URL+"/v1/pipeline", "application/json", body)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", resp.StatusCode)
	}

	resp, err = client.Get(ts.URL + "/v1/pipeline")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	var statusPayload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&statusPayload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if statusPayload["running"] != true || statusPayload["mode"] != "receive" {
		t.Fatalf("unexpected status payload: %v", statusPayload)
	}

	resp, err = client.Get(ts.URL + "/v1/pipeline/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	var stats pipeline.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	resp.Body.Close()
	if stats.Mode != "receive" || stats.State != "PLAYING" {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/pipeline", nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("stop request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop status = %d, want 204", resp.StatusCode)
	}

	// Stopping again stays a no-op.
	resp, err = client.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("second stop status = %d, want 204", resp.StatusCode)
	}
}

func TestStartRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.Client()

	resp, err := client.Post(ts.URL+"/v1/pipeline", "application/json", strings.NewReader(`{"mode":"broadcast"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode status = %d, want 400", resp.StatusCode)
	}

	resp, err = client.Post(ts.URL+"/v1/pipeline", "application/json", strings.NewReader(`{"mode":"receive","params":{}}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("missing url status = %d, want 409", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.Client()

	body := strings.NewReader(`{"mode":"receive","params":{"rtmpUrl":"rtmp://in/live/key","ndiName":"Out"}}`)
	resp, err := client.Post(ts.URL+"/v1/pipeline", "application/json", body)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	resp.Body.Close()

	resp, err = client.Get(ts.URL + "/v1/pipeline/history")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Events []history.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(payload.Events) == 0 || payload.Events[0].Kind != history.EventStarted {
		t.Fatalf("unexpected history: %+v", payload.Events)
	}
}

func TestSourcesEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := ts.Client().Get(ts.URL + "/v1/sources")
	if err != nil {
		t.Fatalf("sources request failed: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Sources []discovery.Source `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode sources: %v", err)
	}
	if len(payload.Sources) != 1 || payload.Sources[0].Name != "Stage A" {
		t.Fatalf("unexpected sources: %+v", payload.Sources)
	}
}

func TestAuthProtectsControlRoutes(t *testing.T) {
	token := "control-secret"
	hashed, err := HashToken(token)
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	ts := newTestServer(t, NewTokenVerifier(hashed, ""))
	client := ts.Client()

	resp, err := client.Get(ts.URL + "/v1/pipeline")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/pipeline", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}

	// Liveness and metrics stay open.
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := client.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("request %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.Client()

	resp, err := client.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz failed: %v", err)
	}
	resp.Body.Close()

	resp, err = client.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), "vanb_http_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", data)
	}
}
