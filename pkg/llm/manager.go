package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/metrics"
)

// ErrAllUpstreamsUnavailable is returned when both the primary and its
// fallback endpoint fail for a role call.
var ErrAllUpstreamsUnavailable = errors.New("all upstream endpoints are unavailable")

// Manager routes role-addressed chat calls to the three clients and
// fails over when an endpoint errors or its circuit is open. The
// fallback chain is meta→A, A→B, B→meta.
type Manager struct {
	meta   *Client
	a      *Client
	b      *Client
	logger *slog.Logger
}

// Stats aggregates the per-endpoint counters and the combined spend.
type Stats struct {
	Meta      EndpointStats `json:"meta_ai"`
	A         EndpointStats `json:"ai_a"`
	B         EndpointStats `json:"ai_b"`
	TotalCost float64       `json:"total_cost"`
}

// NewManager wires three prepared clients into a manager. Used
// directly by tests; production wiring goes through NewManagerFromConfig.
func NewManager(meta, a, b *Client) *Manager {
	return &Manager{
		meta:   meta,
		a:      a,
		b:      b,
		logger: slog.With("component", "llm.manager"),
	}
}

// NewManagerFromConfig builds the three endpoint clients from
// configuration, all running the configured client version.
func NewManagerFromConfig(cfg *config.Config) *Manager {
	v := cfg.Flags.ClientVersion
	return NewManager(
		NewClient(cfg.Endpoints.Meta, v),
		NewClient(cfg.Endpoints.A, v),
		NewClient(cfg.Endpoints.B, v),
	)
}

// CallMeta sends the conversation to the meta endpoint, falling back
// to A.
func (m *Manager) CallMeta(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error) {
	return m.callWithFallback(ctx, m.meta, m.a, messages, opts)
}

// CallA sends the conversation to endpoint A, falling back to B.
func (m *Manager) CallA(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error) {
	return m.callWithFallback(ctx, m.a, m.b, messages, opts)
}

// CallB sends the conversation to endpoint B, falling back to meta.
func (m *Manager) CallB(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error) {
	return m.callWithFallback(ctx, m.b, m.meta, messages, opts)
}

func (m *Manager) callWithFallback(ctx context.Context, primary, fallback *Client, messages []Message, opts ChatOptions) (*ChatResult, error) {
	if primary.CircuitOpen() {
		m.logger.Warn("Circuit open, using fallback endpoint",
			"primary", primary.Name(),
			"fallback", fallback.Name())
		return m.fallbackCall(ctx, primary, fallback, messages, opts)
	}

	res, err := primary.Chat(ctx, messages, opts)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	m.logger.Error("Primary endpoint failed, using fallback",
		"primary", primary.Name(),
		"fallback", fallback.Name(),
		"error", err)
	return m.fallbackCall(ctx, primary, fallback, messages, opts)
}

func (m *Manager) fallbackCall(ctx context.Context, primary, fallback *Client, messages []Message, opts ChatOptions) (*ChatResult, error) {
	metrics.UpstreamFallbacks.WithLabelValues(primary.Name(), fallback.Name()).Inc()

	res, err := fallback.Chat(ctx, messages, opts)
	if err != nil {
		m.logger.Error("Fallback endpoint failed",
			"fallback", fallback.Name(),
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrAllUpstreamsUnavailable, err)
	}
	return res, nil
}

// TotalCost returns the combined spend across the three endpoints.
func (m *Manager) TotalCost() float64 {
	return m.meta.Stats().Cost + m.a.Stats().Cost + m.b.Stats().Cost
}

// Stats returns a snapshot of all endpoint counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Meta:      m.meta.Stats(),
		A:         m.a.Stats(),
		B:         m.b.Stats(),
		TotalCost: m.TotalCost(),
	}
}

// ResetStats zeroes the counters of all three clients.
func (m *Manager) ResetStats() {
	m.meta.ResetStats()
	m.a.ResetStats()
	m.b.ResetStats()
}
