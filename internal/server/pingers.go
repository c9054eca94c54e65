package server

import (
	"context"
	"fmt"
)

// PingFunc adapts a plain probe function to the Pinger interface.
type PingFunc func(ctx context.Context) error

// namedPinger pairs a PingFunc with its readiness label.
type namedPinger struct {
	name string
	fn   PingFunc
}

// NewPinger returns a Pinger labelled name that calls fn. It is used for
// the snapshot engine, the SQLite store and the Redis embedding cache.
func NewPinger(name string, fn PingFunc) Pinger {
	return namedPinger{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p namedPinger) Name() string { return p.name }

// Ping runs the probe.
func (p namedPinger) Ping(ctx context.Context) error {
	if err := p.fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

// HealthChecker is satisfied by the Qdrant-backed semantic index, whose
// native HealthCheck RPC is the cheapest reachability probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QdrantPinger probes a Qdrant instance. It satisfies the Pinger interface
// and is used by GET /api/ready when SEMANTIC_BACKEND=qdrant.
type QdrantPinger struct {
	// client is the Qdrant health checker to probe.
	client HealthChecker
}

// NewQdrantPinger constructs a QdrantPinger for the given client.
func NewQdrantPinger(client HealthChecker) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
