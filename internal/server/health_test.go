package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

// fakeHealthChecker stands in for the Qdrant builder.
type fakeHealthChecker struct{ err error }

func (f fakeHealthChecker) HealthCheck(context.Context) error { return f.err }

func newReadyTestServer(t *testing.T, pingers ...Pinger) *Server {
	t.Helper()
	s, _ := newTestServer(t, func(_ *Deps, c *Config) { c.Pingers = pingers })
	return s
}

func getReady(t *testing.T, s *Server) (int, readyResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected ok, got %q", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	cases := []struct {
		name      string
		pingers   []Pinger
		wantCode  int
		wantReady bool
		wantOK    []bool
	}{
		{
			name:      "no pingers",
			wantCode:  http.StatusOK,
			wantReady: true,
			wantOK:    []bool{},
		},
		{
			name: "all healthy",
			pingers: []Pinger{
				&fakePinger{name: "retrieval"},
				NewPinger("store", func(context.Context) error { return nil }),
				NewQdrantPinger(fakeHealthChecker{}),
			},
			wantCode:  http.StatusOK,
			wantReady: true,
			wantOK:    []bool{true, true, true},
		},
		{
			name: "qdrant down",
			pingers: []Pinger{
				&fakePinger{name: "retrieval"},
				NewQdrantPinger(fakeHealthChecker{err: refused}),
			},
			wantCode: http.StatusServiceUnavailable,
			wantOK:   []bool{true, false},
		},
		{
			name: "all down",
			pingers: []Pinger{
				NewPinger("store", func(context.Context) error { return errors.New("database is locked") }),
				&fakePinger{name: "redis", err: refused},
			},
			wantCode: http.StatusServiceUnavailable,
			wantOK:   []bool{false, false},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, resp := getReady(t, newReadyTestServer(t, tc.pingers...))
			if code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, code)
			}
			if resp.Ready != tc.wantReady {
				t.Errorf("ready: expected %v, got %v", tc.wantReady, resp.Ready)
			}
			if len(resp.Checks) != len(tc.wantOK) {
				t.Fatalf("expected %d checks, got %d", len(tc.wantOK), len(resp.Checks))
			}
			for i, c := range resp.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d: expected name %q, got %q", i, tc.pingers[i].Name(), c.Name)
				}
				if c.OK != tc.wantOK[i] {
					t.Errorf("check %q: expected ok=%v", c.Name, tc.wantOK[i])
				}
				if c.OK != (c.Error == "") {
					t.Errorf("check %q: ok=%v with error %q", c.Name, c.OK, c.Error)
				}
			}
		})
	}
}

// slowPinger blocks until released so the test can observe concurrent probes.
type slowPinger struct {
	name    string
	started chan<- string
	release <-chan struct{}
}

func (p slowPinger) Name() string { return p.name }
func (p slowPinger) Ping(ctx context.Context) error {
	p.started <- p.name
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestProbe_RunsConcurrently(t *testing.T) {
	t.Parallel()

	started := make(chan string, 2)
	release := make(chan struct{})
	pingers := []Pinger{
		slowPinger{name: "a", started: started, release: release},
		slowPinger{name: "b", started: started, release: release},
	}

	done := make(chan readyResponse, 1)
	go func() { done <- probe(context.Background(), pingers) }()

	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("probes did not start concurrently")
		}
	}
	close(release)

	resp := <-done
	if !resp.Ready || resp.Checks[0].Name != "a" || resp.Checks[1].Name != "b" {
		t.Errorf("unexpected response %+v", resp)
	}
}
