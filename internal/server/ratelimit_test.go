package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/callback", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 3, false, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	for i := range 3 {
		if w := hit(h, "10.0.0.1:9999"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := hit(h, "10.0.0.1:9999")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1000" {
		t.Errorf("Retry-After: expected one token interval of 1000s, got %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, false, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	hit(h, "192.168.1.1:1111")
	if w := hit(h, "192.168.1.1:2222"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("same host, other port: expected 429, got %d", w.Code)
	}
	if w := hit(h, "192.168.1.2:1111"); w.Code != http.StatusOK {
		t.Errorf("other host: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_SweepDropsIdleVisitors(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, false, slog.Default())
	defer stop()

	now := time.Now()
	rl.allow("a", now.Add(-10*time.Minute))
	rl.allow("b", now)
	rl.sweep(now)

	if n := rl.size(); n != 1 {
		t.Fatalf("expected 1 visitor after sweep, got %d", n)
	}
	stop()
	stop()
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]int{
		0:                       1,
		100 * time.Millisecond:  1,
		1500 * time.Millisecond: 2,
		2 * time.Hour:           3600,
	}
	for d, want := range cases {
		if got := retryAfterSeconds(d); got != want {
			t.Errorf("%v: expected %d, got %d", d, want, got)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		trust      bool
		want       string
	}{
		{"ipv4", "127.0.0.1:54321", "", false, "127.0.0.1"},
		{"ipv6", "[::1]:8080", "", false, "::1"},
		{"no port", "noport", "", false, "noport"},
		{"xff ignored", "10.0.0.1:80", "203.0.113.9", false, "10.0.0.1"},
		{"xff first hop", "10.0.0.1:443", " 203.0.113.9 , 10.0.0.1", true, "203.0.113.9"},
		{"trusted, no header", "10.0.0.1:443", "", true, "10.0.0.1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if got := clientIP(req, tc.trust); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
