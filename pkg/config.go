package sharedmap

// config.go defines the construction-time configuration object and the
// functional options that shape it, the same pattern the teacher's own
// config.go uses: a private config struct, an exported Option type, a
// defaultConfig constructor, and an applyOptions pass run once at
// construction. The size parameters are validated separately, by
// validateAndBuild in sharedmap.go.
//
// © 2025 sharedmap authors. MIT License.

import (
    "go.uber.org/zap"

    "github.com/prometheus/client_golang/prometheus"
)

// Option configures a SharedMap at construction time. Options are applied in
// the order passed to New/Open and never influence behaviour afterwards —
// there is no live reconfiguration, same as the teacher.
type Option func(*config)

// config bundles every knob that influences SharedMap behaviour. Immutable
// once New/Open returns.
type config struct {
    registry *prometheus.Registry
    logger   *zap.Logger
    hasher   Hasher
}

func defaultConfig() *config {
    return &config{
        logger: zap.NewNop(),
        hasher: defaultHasher,
    }
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default): hits, misses, deletes, deadlock-escalation count,
// rechain count, and length/capacity gauges are all tracked under the
// `sharedmap_` namespace.
func WithMetrics(reg *prometheus.Registry) Option {
    return func(c *config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. SharedMap never logs on the hot
// path (Set/Get/Has/Delete); the only events emitted are construction,
// region attach, and Close. Deadlock-signal escalations and rechains are
// not logged; they are counted in Snapshot and in the metrics.
func WithLogger(l *zap.Logger) Option {
    return func(c *config) {
        if l != nil {
            c.logger = l
        }
    }
}

// WithHasher overrides the default xxhash-based key hasher. The supplied
// function must be deterministic and well-mixing across the full key space;
// a poor hasher degrades chain lengths without affecting correctness.
func WithHasher(h Hasher) Option {
    return func(c *config) {
        if h != nil {
            c.hasher = h
        }
    }
}

func applyOptions(opts []Option) *config {
    cfg := defaultConfig()
    for _, opt := range opts {
        opt(cfg)
    }
    return cfg
}
