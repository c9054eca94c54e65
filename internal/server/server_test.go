package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cynthiaiii4/TSCBot/internal/dispatch"
	"github.com/cynthiaiii4/TSCBot/internal/knowledge"
	"github.com/cynthiaiii4/TSCBot/internal/line"
	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// fakeRouter echoes the message it was given.
type fakeRouter struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRouter) Handle(_ context.Context, userID, text string) dispatch.Reply {
	f.mu.Lock()
	f.calls = append(f.calls, userID+":"+text)
	f.mu.Unlock()
	return dispatch.Reply{
		Messages:     []string{"echo " + text},
		QuickReplies: []dispatch.QuickReply{{Label: "熱門詢問", Text: "熱門詢問"}},
	}
}

func (f *fakeRouter) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSearcher returns fixed candidates or an error.
type fakeSearcher struct {
	cands []retrieval.ScoredCandidate
	err   error
}

func (f *fakeSearcher) Explain(context.Context, string) ([]retrieval.ScoredCandidate, error) {
	return f.cands, f.err
}

func (f *fakeSearcher) QueryTokens(q string) []string { return strings.Fields(q) }

func (f *fakeSearcher) Policy() retrieval.Policy { return retrieval.DefaultPolicy() }

// fakeReloader publishes a fixed snapshot unless err is set.
type fakeReloader struct {
	err  error
	snap *retrieval.Snapshot
}

func (f *fakeReloader) Reload(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.snap = &retrieval.Snapshot{
		Corpus: knowledge.NewCorpus([]knowledge.Record{
			{Category: "帳號", Question: "如何重設密碼", Answer: "點選忘記密碼"},
			{Category: "點數", Question: "如何兌換點數", Answer: "至會員中心兌換"},
		}),
		BuiltAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	return nil
}

func (f *fakeReloader) Snapshot() *retrieval.Snapshot { return f.snap }

// sentReply is one captured Replier call.
type sentReply struct {
	token string
	texts []string
	quick []line.QuickReply
}

// fakeReplier forwards every reply to a channel.
type fakeReplier struct {
	sent chan sentReply
	err  error
}

func (f *fakeReplier) Reply(_ context.Context, token string, texts []string, quick []line.QuickReply) error {
	f.sent <- sentReply{token: token, texts: texts, quick: quick}
	return f.err
}

// newTestServer builds a Server with fakes, a discarded logger and an
// isolated metrics registry.
func newTestServer(t *testing.T, opts ...func(*Deps, *Config)) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	deps := Deps{
		Router:   &fakeRouter{},
		Searcher: &fakeSearcher{},
		Reloader: &fakeReloader{},
	}
	cfg := &Config{
		Logger:          logging.Discard(),
		MetricsRegistry: reg,
		RateLimit:       1000,
		RateBurst:       1000,
	}
	for _, o := range opts {
		o(&deps, cfg)
	}
	s, err := New(deps, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, reg
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}, &Config{Logger: logging.Discard()}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	if s.httpServer.Addr != "127.0.0.1:8080" {
		t.Errorf("addr: got %q", s.httpServer.Addr)
	}
	if s.cfg.ReplyTimeout != time.Minute {
		t.Errorf("reply timeout: got %v", s.cfg.ReplyTimeout)
	}
	if s.cfg.MetricsGatherer == nil {
		t.Error("expected gatherer defaulted from registry")
	}
}

// ---------------------------------------------------------------------------
// POST /callback
// ---------------------------------------------------------------------------

const webhookBody = `{
  "destination": "U0",
  "events": [
    {"type": "follow", "replyToken": "r0", "source": {"type": "user", "userId": "U1"}},
    {"type": "message", "replyToken": "r1", "source": {"type": "user", "userId": "U1"},
     "message": {"id": "1", "type": "text", "text": "問題分類"}},
    {"type": "message", "replyToken": "r2", "source": {"type": "user", "userId": "U2"},
     "message": {"id": "2", "type": "sticker"}}
  ]
}`

func TestCallback_RepliesToTextMessages(t *testing.T) {
	t.Parallel()

	replier := &fakeReplier{sent: make(chan sentReply, 4)}
	router := &fakeRouter{}
	s, reg := newTestServer(t, func(d *Deps, _ *Config) {
		d.Line = replier
		d.Router = router
	})

	w := do(t, s.Handler(), http.MethodPost, "/callback", webhookBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case got := <-replier.sent:
		if got.token != "r1" {
			t.Errorf("token: got %q", got.token)
		}
		if len(got.texts) != 1 || got.texts[0] != "echo 問題分類" {
			t.Errorf("texts: got %v", got.texts)
		}
		if len(got.quick) != 1 || got.quick[0].Text != "熱門詢問" {
			t.Errorf("quick replies: got %v", got.quick)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply sent")
	}

	s.inflight.Wait()
	if calls := router.seen(); len(calls) != 1 || calls[0] != "U1:問題分類" {
		t.Errorf("router calls: got %v", calls)
	}
	if v := counterValue(t, reg, "tscbot_webhook_events_total", "outcome", outcomeSkipped); v != 2 {
		t.Errorf("skipped: want 2, got %v", v)
	}
	if v := counterValue(t, reg, "tscbot_webhook_events_total", "outcome", outcomeReplied); v != 1 {
		t.Errorf("replied: want 1, got %v", v)
	}
}

func TestCallback_ReplyErrorCounted(t *testing.T) {
	t.Parallel()

	replier := &fakeReplier{sent: make(chan sentReply, 4), err: errors.New("line: status 400")}
	s, reg := newTestServer(t, func(d *Deps, _ *Config) { d.Line = replier })

	do(t, s.Handler(), http.MethodPost, "/callback", webhookBody)
	<-replier.sent
	s.inflight.Wait()

	if v := counterValue(t, reg, "tscbot_webhook_events_total", "outcome", outcomeReplyError); v != 1 {
		t.Errorf("reply_error: want 1, got %v", v)
	}
}

func TestCallback_NoLineClient(t *testing.T) {
	t.Parallel()

	router := &fakeRouter{}
	s, reg := newTestServer(t, func(d *Deps, _ *Config) { d.Router = router })

	w := do(t, s.Handler(), http.MethodPost, "/callback", webhookBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	s.inflight.Wait()

	if len(router.seen()) != 1 {
		t.Errorf("expected the message to be routed once, got %v", router.seen())
	}
	if v := counterValue(t, reg, "tscbot_webhook_events_total", "outcome", outcomeUnanswered); v != 1 {
		t.Errorf("unanswered: want 1, got %v", v)
	}
}

func TestCallback_BadBody(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	w := do(t, s.Handler(), http.MethodPost, "/callback", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCallback_NotAuthenticated(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(_ *Deps, c *Config) { c.APIKey = "secret" })
	w := do(t, s.Handler(), http.MethodPost, "/callback", `{"events":[]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook must not require the API key, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/ask
// ---------------------------------------------------------------------------

func TestAsk_RoutesMessage(t *testing.T) {
	t.Parallel()

	router := &fakeRouter{}
	s, _ := newTestServer(t, func(d *Deps, _ *Config) { d.Router = router })

	w := do(t, s.Handler(), http.MethodPost, "/api/ask", `{"message":"  熱門詢問  "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp askResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Text != "echo 熱門詢問" {
		t.Errorf("text: got %q", resp.Text)
	}
	if calls := router.seen(); len(calls) != 1 || calls[0] != "api:熱門詢問" {
		t.Errorf("router calls: got %v", calls)
	}
}

func TestAsk_Validation(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	cases := map[string]string{
		"empty message": `{"message":"   "}`,
		"bad json":      `{"message":`,
	}
	for name, body := range cases {
		w := do(t, s.Handler(), http.MethodPost, "/api/ask", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

func TestAsk_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(_ *Deps, c *Config) { c.APIKey = "secret" })

	w := do(t, s.Handler(), http.MethodPost, "/api/ask", `{"message":"hi"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	w = do(t, s.Handler(), http.MethodPost, "/api/ask", `{"message":"hi"}`, "Authorization", "Bearer secret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/search
// ---------------------------------------------------------------------------

func TestSearch_ReturnsSelectionAndCandidates(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{cands: []retrieval.ScoredCandidate{
		{Index: 1, Question: "如何兌換點數", Combined: 12},
		{Index: 0, Question: "如何重設密碼", Combined: 11},
		{Index: 2, Question: "如何註冊", Combined: 1},
	}}
	s, _ := newTestServer(t, func(d *Deps, _ *Config) { d.Searcher = searcher })

	w := do(t, s.Handler(), http.MethodPost, "/api/search", `{"query":"點數 密碼","limit":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp searchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Candidates) != 2 {
		t.Errorf("candidates: want 2 (limit), got %d", len(resp.Candidates))
	}
	if len(resp.Selected) != 2 || resp.Selected[0].Index != 1 {
		t.Errorf("selected: got %+v", resp.Selected)
	}
	if len(resp.Tokens) != 2 {
		t.Errorf("tokens: got %v", resp.Tokens)
	}
}

func TestSearch_NoSelectionIsEmptyArray(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{cands: []retrieval.ScoredCandidate{{Index: 0, Combined: 1}}}
	s, _ := newTestServer(t, func(d *Deps, _ *Config) { d.Searcher = searcher })

	w := do(t, s.Handler(), http.MethodPost, "/api/search", `{"query":"天氣"}`)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"selected":[]`)) {
		t.Errorf("expected empty selected array, got %s", w.Body.String())
	}
}

func TestSearch_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no snapshot", retrieval.ErrNoSnapshot, http.StatusServiceUnavailable},
		{"embedder down", errors.New("embedder: connection refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		s, _ := newTestServer(t, func(d *Deps, _ *Config) { d.Searcher = &fakeSearcher{err: tc.err} })
		w := do(t, s.Handler(), http.MethodPost, "/api/search", `{"query":"x"}`)
		if w.Code != tc.want {
			t.Errorf("%s: want %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// POST /api/reload
// ---------------------------------------------------------------------------

func TestReload_OK(t *testing.T) {
	t.Parallel()

	s, reg := newTestServer(t)
	w := do(t, s.Handler(), http.MethodPost, "/api/reload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp reloadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Records != 2 {
		t.Errorf("records: want 2, got %d", resp.Records)
	}
	if v := counterValue(t, reg, "tscbot_api_reloads_total", "outcome", outcomeOK); v != 1 {
		t.Errorf("reloads ok: want 1, got %v", v)
	}
}

func TestReload_Failure(t *testing.T) {
	t.Parallel()

	s, reg := newTestServer(t, func(d *Deps, _ *Config) {
		d.Reloader = &fakeReloader{err: errors.New("store: locked")}
	})
	w := do(t, s.Handler(), http.MethodPost, "/api/reload", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if v := counterValue(t, reg, "tscbot_api_reloads_total", "outcome", outcomeError); v != 1 {
		t.Errorf("reloads error: want 1, got %v", v)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	w := do(t, s.Handler(), http.MethodGet, "/api/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("expected generated UUID request id, got %q", id)
	}

	w = do(t, s.Handler(), http.MethodGet, "/api/health", "", "X-Request-ID", "abc-123")
	if id := w.Header().Get("X-Request-ID"); id != "abc-123" {
		t.Errorf("expected caller request id echoed, got %q", id)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	s, reg := newTestServer(t)
	w := do(t, s.Handler(), http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if v := counterValue(t, reg, "tscbot_http_requests_total", "handler", "unmatched"); v != 1 {
		t.Errorf("unmatched requests: want 1, got %v", v)
	}
}
