package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/rootstack/cache"
)

type options struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer
	globals  *cache.Globals
}

// Option configures a Pool.
type Option func(*options)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithLogger sets the pool logger. The package logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver reports slot state changes to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithGlobals shares a global cache with the pool instead of giving it its
// own. The cache is linked into the pool's runtime and torn down when the
// pool exits.
func WithGlobals(g *cache.Globals) Option {
	return func(o *options) {
		o.globals = g
	}
}
