package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability. Ping is
// called concurrently with other pingers.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses, e.g. "store".
	Name() string
}

type readyCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// probe runs every pinger in parallel. Checks keep registration order.
func probe(ctx context.Context, pingers []Pinger) readyResponse {
	checks := make([]readyCheck, len(pingers))
	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			checks[i] = readyCheck{Name: p.Name(), OK: true}
			if err := p.Ping(pctx); err != nil {
				checks[i].OK = false
				checks[i].Error = err.Error()
			}
		})
	}
	wg.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		resp.Ready = resp.Ready && c.OK
	}
	return resp
}

// handleReady serves GET /api/ready: 200 when every dependency answers,
// 503 otherwise. /api/health only reports that the process is up.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := probe(r.Context(), s.pingers)

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
		log := logging.FromContext(r.Context())
		for _, c := range resp.Checks {
			if !c.OK {
				log.Warn("readiness probe failed", slog.String("dependency", c.Name), slog.String("error", c.Error))
			}
		}
	}
	writeJSON(w, r, status, resp)
}
