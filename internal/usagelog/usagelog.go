// Package usagelog records usage events in the background. Callers enqueue
// and return at once; a bounded queue feeds an ants worker pool that writes
// to the store. A full queue or a failed write is logged and dropped, never
// surfaced to the caller.
package usagelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/cynthiaiii4/TSCBot/internal/config"
	"github.com/cynthiaiii4/TSCBot/internal/store"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("usagelog: logger closed")
	// ErrQueueFull is returned by Enqueue when the queue has no room.
	ErrQueueFull = errors.New("usagelog: queue full")
)

// EventWriter persists one usage event.
type EventWriter interface {
	AppendEvent(ctx context.Context, ev store.Event) error
}

// Config sizes the pool and queue.
type Config struct {
	// Workers is the number of concurrent store writers.
	Workers int
	// Queue is the number of events that may wait for a worker.
	Queue int
	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration
}

// DefaultConfig returns 2 workers, a 256-event queue and a 5s write timeout.
func DefaultConfig() Config {
	return Config{Workers: 2, Queue: 256, WriteTimeout: 5 * time.Second}
}

// ConfigFromEnv overlays USAGE_LOG_WORKERS and USAGE_LOG_QUEUE on
// DefaultConfig.
func ConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		Workers:      config.Int("USAGE_LOG_WORKERS", d.Workers),
		Queue:        config.Int("USAGE_LOG_QUEUE", d.Queue),
		WriteTimeout: d.WriteTimeout,
	}
}

// Logger is the background usage logger. It is safe for concurrent use.
type Logger struct {
	w       EventWriter
	cfg     Config
	log     *slog.Logger
	pool    *ants.Pool
	metrics *Metrics
	now     func() time.Time

	// mu guards closed and the send side of queue.
	mu     sync.RWMutex
	closed bool
	queue  chan store.Event
	done   chan struct{}
}

// New starts a Logger writing to w. metrics may be nil.
func New(w EventWriter, cfg Config, log *slog.Logger, metrics *Metrics) (*Logger, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("usagelog: workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.Queue < 0 {
		return nil, fmt.Errorf("usagelog: queue must not be negative, got %d", cfg.Queue)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	l := &Logger{
		w:       w,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		now:     time.Now,
		queue:   make(chan store.Event, cfg.Queue),
		done:    make(chan struct{}),
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		l.log.Warn("usagelog: writer panicked", slog.Any("panic", p))
		l.metrics.inc("", outcomeFailed)
	}))
	if err != nil {
		return nil, fmt.Errorf("usagelog: create pool: %w", err)
	}
	l.pool = pool

	go l.dispatch()
	return l, nil
}

// Enqueue schedules ev for writing without blocking. CreatedAt defaults to
// now.
func (l *Logger) Enqueue(ev store.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.queue <- ev:
		return nil
	default:
		l.metrics.inc(ev.Kind, outcomeDropped)
		return ErrQueueFull
	}
}

// RecordQuery records an inbound message from userID.
func (l *Logger) RecordQuery(userID, text string) {
	l.record(store.Event{Kind: store.EventQuery, UserID: userID, Text: text})
}

// RecordTopMatch records the best-ranked question of a query.
func (l *Logger) RecordTopMatch(question string) {
	l.record(store.Event{Kind: store.EventTopMatch, Text: question})
}

func (l *Logger) record(ev store.Event) {
	if err := l.Enqueue(ev); err != nil {
		l.log.Warn("usagelog: event dropped",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// dispatch hands queued events to the pool until the queue is closed.
// Submit blocks while every worker is busy, so the queue absorbs bursts.
func (l *Logger) dispatch() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.pool.Submit(func() { l.write(ev) }); err != nil {
			l.log.Warn("usagelog: submit failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			l.metrics.inc(ev.Kind, outcomeDropped)
		}
	}
}

func (l *Logger) write(ev store.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()
	if err := l.w.AppendEvent(ctx, ev); err != nil {
		l.log.Warn("usagelog: write failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
		l.metrics.inc(ev.Kind, outcomeFailed)
		return
	}
	l.metrics.inc(ev.Kind, outcomeWritten)
}

// Close stops accepting events, drains the queue and waits up to timeout
// for in-flight writes. Events still pending at the deadline are lost.
func (l *Logger) Close(timeout time.Duration) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	deadline := time.Now().Add(timeout)
	select {
	case <-l.done:
	case <-time.After(timeout):
		l.pool.Release()
		return fmt.Errorf("usagelog: %d events not written within %s", len(l.queue), timeout)
	}
	if err := l.pool.ReleaseTimeout(max(time.Until(deadline), time.Millisecond)); err != nil {
		return fmt.Errorf("usagelog: release pool: %w", err)
	}
	return nil
}
