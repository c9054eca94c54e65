package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cynthiaiii4/TSCBot/internal/compose"
	"github.com/cynthiaiii4/TSCBot/internal/config"
	"github.com/cynthiaiii4/TSCBot/internal/dispatch"
	"github.com/cynthiaiii4/TSCBot/internal/embedder"
	"github.com/cynthiaiii4/TSCBot/internal/provider"
	"github.com/cynthiaiii4/TSCBot/internal/rag"
	"github.com/cynthiaiii4/TSCBot/internal/retrieval"
	"github.com/cynthiaiii4/TSCBot/internal/server"
	"github.com/cynthiaiii4/TSCBot/internal/store"
	"github.com/cynthiaiii4/TSCBot/internal/synonym"
	"github.com/cynthiaiii4/TSCBot/internal/tokenize"
	"github.com/cynthiaiii4/TSCBot/internal/usagelog"
)

// usageDrainTimeout bounds flushing pending usage events on exit.
const usageDrainTimeout = 5 * time.Second

// app is the fully wired bot shared by serve, ask, search and mcp.
type app struct {
	store    *store.SQLiteStore
	engine   *retrieval.Engine
	ranker   *retrieval.Ranker
	usage    *usagelog.Logger
	composer *compose.Composer
	router   *dispatch.Router
	pingers  []server.Pinger

	closers []func() error
}

// Close releases everything buildApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// buildApp opens the store, builds the first retrieval snapshot and wires
// the ranker, composer and router. Any startup failure is returned; the
// request path never fails afterwards. Metrics register against reg.
func buildApp(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	st, err := openStore(log)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	a.pingers = append(a.pingers, server.NewPinger("store", st.Ping))

	groups, err := synonym.Load(config.String("SYNONYMS_FILE", ""))
	if err != nil {
		return nil, err
	}
	var terms []string
	for _, g := range groups {
		terms = append(terms, g...)
	}
	seg, err := tokenize.NewSegmenter(config.String("TOKENIZER_DICT", ""), terms)
	if err != nil {
		return nil, err
	}
	expander := synonym.New(seg, groups)
	log.Info("tokenizer ready", slog.Int("synonym_groups", len(groups)))

	emb, err := embedder.NewFromEnv(ctx, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, emb.Close)
	if cache := emb.Cache(); cache != nil {
		a.pingers = append(a.pingers, server.NewPinger("redis", cache.Ping))
	}
	log.Info("embedder initialised",
		slog.String("provider", emb.Spec.Provider),
		slog.String("model", emb.Spec.Model),
	)

	builder, err := buildSemantic(emb, a, log)
	if err != nil {
		return nil, err
	}

	a.engine = retrieval.NewEngine(seg, builder, st.LoadRecords, log)
	if err := a.engine.Reload(ctx); err != nil {
		return nil, fmt.Errorf("startup: %w", err)
	}
	a.pingers = append([]server.Pinger{server.NewPinger("retrieval", a.engine.Ping)}, a.pingers...)

	a.usage, err = usagelog.New(st, usagelog.ConfigFromEnv(), log, usagelog.NewMetrics(reg))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return a.usage.Close(usageDrainTimeout) })

	a.ranker, err = retrieval.NewRanker(retrieval.RankerConfig{
		Source:    a.engine,
		Tokenizer: seg,
		Expander:  expander,
		Policy:    retrieval.PolicyFromEnv(),
		Recorder:  a.usage,
		Metrics:   retrieval.NewMetrics(reg),
	})
	if err != nil {
		return nil, err
	}

	chatModel, err := newChatModel(ctx, log)
	if err != nil {
		return nil, err
	}
	a.composer = compose.New(a.ranker, chatModel, compose.ConfigFromEnv(), compose.NewMetrics(reg))

	a.router, err = dispatch.New(dispatch.Config{
		Source:   a.engine,
		Composer: a.composer,
		Hot:      st,
		Recorder: a.usage,
		Metrics:  dispatch.NewMetrics(reg),

		PointsSource: config.String("POINTS_SOURCE", dispatch.DefaultPointsSource),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openStore opens TSCBOT_DB, defaulting to ~/.tscbot/tscbot.db.
func openStore(log *slog.Logger) (*store.SQLiteStore, error) {
	path := config.String("TSCBOT_DB", "")
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", slog.String("path", path))
	return st, nil
}

// buildSemantic selects the semantic index backend from SEMANTIC_BACKEND.
func buildSemantic(emb *embedder.Handle, a *app, log *slog.Logger) (rag.Builder, error) {
	switch backend := strings.ToLower(config.String("SEMANTIC_BACKEND", "memory")); backend {
	case "memory":
		return rag.MemoryBuilder{Embedder: emb}, nil

	case "qdrant":
		qcfg := &rag.QdrantConfig{
			Host:       config.String("QDRANT_HOST", "localhost"),
			Port:       config.Int("QDRANT_PORT", 6334),
			Collection: config.String("QDRANT_COLLECTION", "tscbot_faq"),
			Model:      emb.Spec.Provider + "/" + emb.Spec.Model,
			APIKey:     config.String("QDRANT_API_KEY", ""),
			UseTLS:     config.Bool("QDRANT_TLS", false),
		}
		client, err := rag.NewQdrantClient(qcfg)
		if err != nil {
			return nil, err
		}
		qb, err := rag.NewQdrantBuilder(client, emb, qcfg, log)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.closers = append(a.closers, qb.Close)
		a.pingers = append(a.pingers, server.NewQdrantPinger(qb))
		log.Info("qdrant semantic index", slog.String("host", qcfg.Host), slog.Int("port", qcfg.Port))
		return qb, nil

	default:
		return nil, fmt.Errorf("startup: unknown SEMANTIC_BACKEND %q, valid values: memory, qdrant", backend)
	}
}

// newChatModel builds the answer synthesizer. MODEL_PROVIDER=none disables
// it, in which case the composer replies with the matched answers as-is.
func newChatModel(ctx context.Context, log *slog.Logger) (model.BaseChatModel, error) {
	cfg := provider.ConfigFromEnv()
	if strings.EqualFold(string(cfg.Backend), "none") {
		log.Warn("synthesizer disabled, replying with matched answers directly")
		return nil, nil
	}
	m, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("startup: failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(cfg.Backend)),
		slog.String("model", cfg.ModelName()),
	)
	return m, nil
}
