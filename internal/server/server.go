// Package server implements the bot's HTTP front: the LINE webhook, a JSON
// API for asking, searching and reloading, health and readiness probes and
// Prometheus metrics. It is started by the `tscbot serve` command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cynthiaiii4/TSCBot/internal/line"
	"github.com/cynthiaiii4/TSCBot/internal/logging"
	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
)

// maxBodyBytes bounds JSON request bodies on /api/*.
const maxBodyBytes = 64 << 10

// New constructs a Server from deps and cfg.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Router == nil || deps.Searcher == nil || deps.Reloader == nil {
		return nil, fmt.Errorf("server: router, searcher and reloader are required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Long enough for /api/ask to wait on answer synthesis.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.NewRegistry()
	}
	if cfg.MetricsGatherer == nil {
		if g, ok := cfg.MetricsRegistry.(prometheus.Gatherer); ok {
			cfg.MetricsGatherer = g
		} else {
			cfg.MetricsGatherer = prometheus.DefaultGatherer
		}
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}
	if cfg.APIKey == "" {
		s.log.Warn("server: TSCBOT_API_KEY not set, /api/* is unauthenticated")
	}
	if deps.Line == nil {
		s.log.Warn("server: LINE_CHANNEL_TOKEN not set, webhook messages will not be answered")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy, s.log)
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the handler tree. /callback is rate limited but cannot
// carry a bearer token; the mutating and scoring /api routes need both.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.HandlerFunc) http.Handler {
		return rl.middleware(authMiddleware(s.cfg.APIKey, h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /callback", rl.middleware(http.HandlerFunc(s.handleCallback)))
	mux.Handle("POST /api/ask", protect(s.handleAsk))
	mux.Handle("POST /api/search", protect(s.handleSearch))
	mux.Handle("POST /api/reload", protect(s.handleReload))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, s.metrics.instrument(mux))
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then shuts down gracefully and waits for pending
// webhook replies.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		if !s.waitInflight(shutdownCtx) {
			s.log.Warn("server: shutdown with webhook replies pending")
		}
		return nil
	}
}

// waitInflight waits for pending webhook replies until ctx ends.
func (s *Server) waitInflight(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleCallback handles POST /callback, the LINE webhook. It acknowledges
// at once and answers the text messages in the background, in delivery
// order.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	wh, err := line.ParseWebhook(r.Body)
	if err != nil {
		log.Warn("callback: bad webhook body", slog.String("error", err.Error()))
		http.Error(w, "invalid webhook body", http.StatusBadRequest)
		return
	}
	msgs := wh.TextMessages()
	s.metrics.webhookEventsTotal.WithLabelValues(outcomeSkipped).Add(float64(len(wh.Events) - len(msgs)))

	w.WriteHeader(http.StatusOK)
	if len(msgs) == 0 {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.inflight.Go(func() {
		for _, m := range msgs {
			s.answer(ctx, m)
		}
	})
}

// answer routes one webhook message and sends the reply.
func (s *Server) answer(ctx context.Context, m line.TextMessage) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	defer cancel()
	log := logging.FromContext(ctx)

	reply := s.deps.Router.Handle(ctx, m.UserID, m.Text)
	if s.deps.Line == nil {
		s.metrics.webhookEventsTotal.WithLabelValues(outcomeUnanswered).Inc()
		return
	}

	quick := make([]line.QuickReply, len(reply.QuickReplies))
	for i, q := range reply.QuickReplies {
		quick[i] = line.QuickReply{Label: q.Label, Text: q.Text}
	}
	if err := s.deps.Line.Reply(ctx, m.ReplyToken, reply.Messages, quick); err != nil {
		log.Warn("callback: reply failed", slog.String("error", err.Error()))
		s.metrics.webhookEventsTotal.WithLabelValues(outcomeReplyError).Inc()
		return
	}
	s.metrics.webhookEventsTotal.WithLabelValues(outcomeReplied).Inc()
}

// handleAsk handles POST /api/ask. The message is routed exactly as a chat
// message, so menu commands work too.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID = "api"
	}

	start := time.Now()
	reply := s.deps.Router.Handle(r.Context(), req.UserID, req.Message)
	s.metrics.askDurationSeconds.Observe(time.Since(start).Seconds())

	writeJSON(w, r, http.StatusOK, askResponse{
		Text:         reply.Text(),
		Messages:     reply.Messages,
		QuickReplies: reply.QuickReplies,
	})
}

// handleSearch handles POST /api/search: every candidate's scores plus the
// selection the ranking policy would make. It records no usage.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	limit = min(limit, 100)

	cands, err := s.deps.Searcher.Explain(r.Context(), req.Query)
	switch {
	case errors.Is(err, retrieval.ErrNoSnapshot):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logging.FromContext(r.Context()).Warn("search failed", slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}

	selected := retrieval.Select(cands, s.deps.Searcher.Policy())
	if selected == nil {
		selected = []retrieval.ScoredCandidate{}
	}
	writeJSON(w, r, http.StatusOK, searchResponse{
		Query:      req.Query,
		Tokens:     s.deps.Searcher.QueryTokens(req.Query),
		Selected:   selected,
		Candidates: cands[:min(limit, len(cands))],
	})
}

// handleReload handles POST /api/reload. A failed rebuild leaves the
// previous snapshot serving and returns 500.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if err := s.deps.Reloader.Reload(r.Context()); err != nil {
		log.Error("reload failed", slog.String("error", err.Error()))
		s.metrics.reloadsTotal.WithLabelValues(outcomeError).Inc()
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.reloadsTotal.WithLabelValues(outcomeOK).Inc()

	snap := s.deps.Reloader.Snapshot()
	writeJSON(w, r, http.StatusOK, reloadResponse{Records: snap.Corpus.Len(), BuiltAt: snap.BuiltAt})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}
