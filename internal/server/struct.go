package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cynthiaiii4/TSCBot/internal/dispatch"
	"github.com/cynthiaiii4/TSCBot/internal/line"
	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown, including pending webhook
	// replies.
	ShutdownTimeout time.Duration
	// ReplyTimeout bounds routing and replying to one webhook message.
	ReplyTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /callback
	// and /api/* (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// TrustProxy keys the rate limit on the first X-Forwarded-For address,
	// for deployments behind a reverse proxy.
	TrustProxy bool
	// APIKey is the Bearer token required on /api/* routes other than health
	// and readiness. If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to a fresh
	// registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to MetricsRegistry
	// when it is also a Gatherer.
	MetricsGatherer prometheus.Gatherer
}

// Responder routes one chat message to a reply.
type Responder interface {
	Handle(ctx context.Context, userID, text string) dispatch.Reply
}

// Searcher exposes the ranker's per-candidate scores.
type Searcher interface {
	Explain(ctx context.Context, query string) ([]retrieval.ScoredCandidate, error)
	QueryTokens(query string) []string
	Policy() retrieval.Policy
}

// Reloader rebuilds the retrieval snapshot.
type Reloader interface {
	Reload(ctx context.Context) error
	Snapshot() *retrieval.Snapshot
}

// Replier sends replies to the messaging gateway.
type Replier interface {
	Reply(ctx context.Context, replyToken string, texts []string, quick []line.QuickReply) error
}

// Deps are the collaborators behind the routes. Line may be nil, in which
// case webhook messages are routed but not answered.
type Deps struct {
	Router   Responder
	Searcher Searcher
	Reloader Reloader
	Line     Replier
}

// Server is the HTTP front of the bot.
type Server struct {
	// deps holds the routed collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// inflight tracks webhook replies still being produced.
	inflight sync.WaitGroup
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Message is the user's text, routed exactly like a chat message.
	Message string `json:"message"`
	// UserID identifies the caller in the usage log (default: "api").
	UserID string `json:"user_id,omitempty"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	Text         string                `json:"text"`
	Messages     []string              `json:"messages"`
	QuickReplies []dispatch.QuickReply `json:"quick_replies,omitempty"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query string `json:"query"`
	// Limit caps the returned candidates (default 10, max 100).
	Limit int `json:"limit,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	Query      string                      `json:"query"`
	Tokens     []string                    `json:"tokens"`
	Selected   []retrieval.ScoredCandidate `json:"selected"`
	Candidates []retrieval.ScoredCandidate `json:"candidates"`
}

// reloadResponse is the JSON response for POST /api/reload.
type reloadResponse struct {
	Records int       `json:"records"`
	BuiltAt time.Time `json:"built_at"`
}

// errorResponse is the JSON body of API errors.
type errorResponse struct {
	Error string `json:"error"`
}
