package spangle

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultName is the fallback project and log stream name when neither an
// explicit option, a context value nor the environment provides one.
const DefaultName = "default"

type registryKey struct {
	project string
	parent  string // log stream name, or experiment ID in experiment mode
	mode    Mode
}

// Registry caches Logger instances per (project, stream-or-experiment, mode)
// identity so repeated instrumentation calls share one trace buffer. A
// process-wide default registry backs the package-level functions; tests
// construct their own with NewRegistry for full isolation.
type Registry struct {
	opts []Option

	mu      sync.Mutex
	loggers map[registryKey]*Logger
	last    *Logger
}

// NewRegistry creates an empty registry. The given options are applied to
// every logger it constructs, before per-call options.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:    opts,
		loggers: make(map[registryKey]*Logger),
	}
}

// resolveIdentity applies the precedence: explicit option > context value >
// environment > DefaultName.
func (r *Registry) resolveIdentity(ctx context.Context, opts []Option) loggerConfig {
	cfg := loggerConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range r.opts {
		opt(&cfg)
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.project == "" {
		cfg.project = projectFrom(ctx)
	}
	if cfg.logStream == "" {
		cfg.logStream = logStreamFrom(ctx)
	}
	if cfg.experimentID == "" {
		cfg.experimentID = experimentFrom(ctx)
	}

	if cfg.project == "" || cfg.logStream == "" {
		if env, err := LoadConfig(ctx); err == nil {
			if cfg.project == "" {
				cfg.project = env.Project
			}
			if cfg.logStream == "" {
				cfg.logStream = env.LogStream
			}
			if cfg.experimentID == "" {
				cfg.experimentID = env.ExperimentID
			}
		}
	}

	if cfg.project == "" {
		cfg.project = DefaultName
	}
	if cfg.logStream == "" {
		cfg.logStream = DefaultName
	}
	if cfg.mode == "" {
		if cfg.experimentID != "" {
			cfg.mode = ModeExperiment
		} else {
			cfg.mode = ModeLogging
		}
	}
	return cfg
}

func keyOf(cfg loggerConfig) registryKey {
	parent := cfg.logStream
	if cfg.mode == ModeExperiment {
		parent = cfg.experimentID
	}
	return registryKey{project: cfg.project, parent: parent, mode: cfg.mode}
}

// Get returns the cached logger for the resolved identity, constructing one
// lazily. The returned logger becomes the registry's default client.
func (r *Registry) Get(ctx context.Context, opts ...Option) *Logger {
	cfg := r.resolveIdentity(ctx, opts)
	key := keyOf(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.loggers[key]
	if !ok {
		l = &Logger{
			project:      cfg.project,
			logStream:    cfg.logStream,
			experimentID: cfg.experimentID,
			mode:         cfg.mode,
			exporter:     cfg.exporter,
			logger:       cfg.logger,
		}
		r.loggers[key] = l
	}
	r.last = l
	return l
}

// Default returns the most recently created-or-accessed logger, or nil when
// the registry is empty. Legacy accessor for call sites that cannot thread
// an identity through.
func (r *Registry) Default() *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Reset terminates (best-effort flush) and removes the logger for the
// resolved identity.
func (r *Registry) Reset(ctx context.Context, opts ...Option) {
	cfg := r.resolveIdentity(ctx, opts)
	key := keyOf(cfg)

	r.mu.Lock()
	l, ok := r.loggers[key]
	if ok {
		delete(r.loggers, key)
		if r.last == l {
			r.last = nil
		}
	}
	r.mu.Unlock()

	if ok {
		l.Terminate(ctx)
	}
}

// ResetAll terminates and removes every cached logger.
func (r *Registry) ResetAll(ctx context.Context) {
	r.mu.Lock()
	loggers := make([]*Logger, 0, len(r.loggers))
	for _, l := range r.loggers {
		loggers = append(loggers, l)
	}
	r.loggers = make(map[registryKey]*Logger)
	r.last = nil
	r.mu.Unlock()

	for _, l := range loggers {
		l.Terminate(ctx)
	}
}

// Flush flushes the logger for the resolved identity without removing it.
func (r *Registry) Flush(ctx context.Context, opts ...Option) error {
	cfg := r.resolveIdentity(ctx, opts)

	r.mu.Lock()
	l, ok := r.loggers[keyOf(cfg)]
	r.mu.Unlock()

	if !ok {
		return nil
	}
	_, err := l.Flush(ctx)
	return err
}

// FlushAll flushes every cached logger without removing any.
func (r *Registry) FlushAll(ctx context.Context) error {
	r.mu.Lock()
	loggers := make([]*Logger, 0, len(r.loggers))
	for _, l := range r.loggers {
		loggers = append(loggers, l)
	}
	r.mu.Unlock()

	var firstErr error
	for _, l := range loggers {
		if _, err := l.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
