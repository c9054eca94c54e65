package embedder

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cynthiaiii4/TSCBot/internal/rag"
)

// Opener constructs the underlying embedder on first use.
type Opener func(ctx context.Context) (rag.Embedder, error)

// Lazy defers constructing an expensive embedder until the first Embed
// call and then reuses that instance for the life of the process. A failed
// open is not cached; the next call retries.
type Lazy struct {
	open Opener

	mu    sync.Mutex
	inner atomic.Pointer[rag.Embedder]
	opens atomic.Int32
}

// NewLazy wraps open.
func NewLazy(open Opener) *Lazy {
	return &Lazy{open: open}
}

// Get returns the shared instance, constructing it if needed.
func (l *Lazy) Get(ctx context.Context) (rag.Embedder, error) {
	if e := l.inner.Load(); e != nil {
		return *e, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.inner.Load(); e != nil {
		return *e, nil
	}

	e, err := l.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedder: load model: %w", err)
	}
	l.opens.Add(1)
	l.inner.Store(&e)
	return e, nil
}

// Embed implements rag.Embedder.
func (l *Lazy) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, texts)
}

// Loaded reports whether the instance has been constructed.
func (l *Lazy) Loaded() bool {
	return l.inner.Load() != nil
}

// Close closes the instance if it was constructed and is an io.Closer.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.inner.Swap(nil)
	if e == nil {
		return nil
	}
	if c, ok := (*e).(io.Closer); ok {
		return c.Close()
	}
	return nil
}
