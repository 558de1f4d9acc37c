package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/BTreeMap/PromptCoach/internal/flow"
	"github.com/BTreeMap/PromptCoach/internal/metrics"
	"github.com/BTreeMap/PromptCoach/internal/models"
	"github.com/BTreeMap/PromptCoach/internal/store"
	"github.com/BTreeMap/PromptCoach/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const skillPayload = `{"userRequest":{"user":{"id":"user-42"},"utterance":"안녕하세요"}}`

type fakeProcessor struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []models.SkillRequest
	ids   []string
}

func (p *fakeProcessor) ProcessMessage(ctx context.Context, req models.SkillRequest) (models.SkillResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	p.ids = append(p.ids, flow.RequestIDFromContext(ctx))
	if p.err != nil {
		return models.SkillResponse{}, p.err
	}
	return models.NewTextResponse(p.reply), nil
}

func newTestServer(p MessageProcessor) (*Server, *metrics.Collector) {
	m := metrics.NewCollector()
	return NewServer(p, WithMetrics(m)), m
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeSkillResponse(t *testing.T, rr *httptest.ResponseRecorder) models.SkillResponse {
	t.Helper()
	var resp models.SkillResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	return resp
}

func TestWebhook_Success(t *testing.T) {
	p := &fakeProcessor{reply: "오늘 하루는 어땠나요?"}
	s, m := newTestServer(p)

	rr := serve(s, http.MethodPost, "/webhook", skillPayload)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	resp := decodeSkillResponse(t, rr)
	if resp.Version != models.SkillVersion || resp.Text() != "오늘 하루는 어땠나요?" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(p.reqs) != 1 || p.reqs[0].UserID() != "user-42" || p.reqs[0].Utterance() != "안녕하세요" {
		t.Errorf("processor got %+v", p.reqs)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a generated request id header")
	}
	if p.ids[0] != rr.Header().Get(RequestIDHeader) {
		t.Errorf("request id not propagated: %q vs %q", p.ids[0], rr.Header().Get(RequestIDHeader))
	}
	if st := m.Snapshot(); st.TotalRequests != 1 || st.ErrorCount != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestWebhook_RequestIDPassthrough(t *testing.T) {
	p := &fakeProcessor{reply: "ok"}
	s, _ := newTestServer(p)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(skillPayload))
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("expected request id echoed, got %q", got)
	}
	if p.ids[0] != "req-123" {
		t.Errorf("expected processor to see req-123, got %q", p.ids[0])
	}
}

func TestWebhook_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed json", "{not json"},
		{"missing userRequest", `{"action":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{reply: "unused"}
			s, m := newTestServer(p)
			rr := serve(s, http.MethodPost, "/webhook", tt.body)
			testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, tt.name)
			if got := decodeSkillResponse(t, rr).Text(); got != defaultErrorReply {
				t.Errorf("expected canned error reply, got %q", got)
			}
			if len(p.reqs) != 0 {
				t.Error("processor must not be called for invalid payloads")
			}
			if m.Snapshot().ErrorCount != 1 {
				t.Error("expected error to be counted")
			}
		})
	}
}

func TestWebhook_ProcessorError(t *testing.T) {
	p := &fakeProcessor{err: errors.New("store down")}
	s, m := newTestServer(p)
	rr := serve(s, http.MethodPost, "/webhook", skillPayload)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "processor error")
	if got := decodeSkillResponse(t, rr).Text(); got != defaultErrorReply {
		t.Errorf("expected canned error reply, got %q", got)
	}
	if st := m.Snapshot(); st.TotalRequests != 1 || st.ErrorCount != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestWebhook_WithCoachingFlow(t *testing.T) {
	coaching := flow.NewCoachingFlow(store.NewInMemoryStore(), flow.DefaultScript())
	s, _ := newTestServer(coaching)
	rr := serve(s, http.MethodPost, "/webhook", skillPayload)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "coaching webhook")
	if got := decodeSkillResponse(t, rr).Text(); got != flow.DefaultScript().Stages[0].Fallback {
		t.Errorf("expected the opening question, got %q", got)
	}

	// the flow's own error reply is used for invalid payloads
	rr = serve(s, http.MethodPost, "/webhook", "")
	if got := decodeSkillResponse(t, rr).Text(); got != flow.DefaultScript().Messages.Error {
		t.Errorf("expected flow error reply, got %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(&fakeProcessor{})
	tests := []struct {
		method, path, allow string
	}{
		{http.MethodGet, "/webhook", http.MethodPost},
		{http.MethodPost, "/health", http.MethodGet},
		{http.MethodDelete, "/stats", http.MethodGet},
		{http.MethodPut, "/metrics", http.MethodGet},
	}
	for _, tt := range tests {
		rr := serve(s, tt.method, tt.path, "")
		testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, tt.method+" "+tt.path)
		if got := rr.Header().Get("Allow"); got != tt.allow {
			t.Errorf("%s %s: expected Allow %q, got %q", tt.method, tt.path, tt.allow, got)
		}
		testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
	}
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(&fakeProcessor{})
	rr := serve(s, http.MethodGet, "/nope", "")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown path")
	if strings.TrimSpace(rr.Body.String()) != `{"error":"Not found"}` {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
}

func TestHealthAndStats(t *testing.T) {
	p := &fakeProcessor{reply: "hi"}
	s, _ := newTestServer(p)
	serve(s, http.MethodPost, "/webhook", skillPayload)
	serve(s, http.MethodPost, "/webhook", "")

	rr := serve(s, http.MethodGet, "/health", "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	var health map[string]interface{}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &health)
	if health["status"] != "healthy" || health["total_requests"] != float64(2) || health["error_count"] != float64(1) {
		t.Errorf("unexpected health %v", health)
	}
	if _, err := time.Parse(time.RFC3339, health["timestamp"].(string)); err != nil {
		t.Errorf("bad timestamp: %v", err)
	}

	rr = serve(s, http.MethodGet, "/stats", "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "stats")
	var stats map[string]interface{}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &stats)
	if stats["success_rate"] != float64(50) {
		t.Errorf("expected 50%% success rate, got %v", stats["success_rate"])
	}
	if _, ok := stats["uptime_seconds"]; !ok {
		t.Error("stats missing uptime_seconds")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeProcessor{reply: "hi"})
	serve(s, http.MethodPost, "/webhook", skillPayload)
	rr := serve(s, http.MethodGet, "/metrics", "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), `promptcoach_webhook_requests_total{outcome="ok"} 1`) {
		t.Errorf("metrics output missing webhook counter:\n%s", rr.Body.String())
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := NewServer(&fakeProcessor{}, WithAddr("127.0.0.1:0"), WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestDecodeSkillRequest(t *testing.T) {
	req, err := decodeSkillRequest([]byte(skillPayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.UserID() != "user-42" {
		t.Errorf("unexpected user %q", req.UserID())
	}
	if _, err := decodeSkillRequest([]byte(`{}`)); !errors.Is(err, models.ErrMissingUserRequest) {
		t.Errorf("expected ErrMissingUserRequest, got %v", err)
	}
	if _, err := decodeSkillRequest([]byte(`{`)); err == nil {
		t.Error("expected a decode error")
	}
}
