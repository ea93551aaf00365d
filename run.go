package spangle

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/spangle/span"
)

type runConfig struct {
	logger   *Logger
	kind     span.Kind
	input    any
	metadata map[string]string
	tags     []string
}

// RunOption configures Run and RunSeq.
type RunOption func(*runConfig)

// WithRunLogger pins the logger instead of resolving one from the
// process-wide registry.
func WithRunLogger(l *Logger) RunOption {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithKind sets the span kind recorded for the wrapped call. Default is
// KindWorkflow. Leaf kinds (llm, retriever, tool) record a span without
// changing the parent stack.
func WithKind(kind span.Kind) RunOption {
	return func(c *runConfig) {
		c.kind = kind
	}
}

// WithInput records the wrapped call's input on the span (and on the trace
// when Run opens one).
func WithInput(input any) RunOption {
	return func(c *runConfig) {
		c.input = input
	}
}

// WithRunMetadata attaches metadata to the recorded span.
func WithRunMetadata(metadata map[string]string) RunOption {
	return func(c *runConfig) {
		c.metadata = metadata
	}
}

// WithRunTags attaches tags to the recorded span.
func WithRunTags(tags ...string) RunOption {
	return func(c *runConfig) {
		c.tags = append(c.tags, tags...)
	}
}

// Run invokes fn under a recorded span, opening a trace first when the
// current scope has none. It concludes exactly what it opened and never a
// span it didn't. The function's return value and error pass through
// unchanged; bookkeeping failures are logged, never substituted for the
// function's own outcome.
func Run[T any](ctx context.Context, name string, fn func(context.Context) (T, error), opts ...RunOption) (T, error) {
	cfg := applyRunOptions(opts)
	s, runCtx := beginRun(ctx, name, cfg)

	done := false
	defer func() {
		if !done {
			s.finish(nil, goerr.New("wrapped function panicked", goerr.V("name", name)))
		}
	}()

	out, err := fn(runCtx)
	done = true

	var output any
	if err == nil {
		output = out
	}
	s.finish(output, err)
	return out, err
}

// RunSeq is the streaming variant of Run: it wraps a function returning an
// iterator and finalizes the span only once the sequence stops, whether by
// exhaustion, a mid-stream error, or the consumer breaking early. Yielded
// strings concatenate into the span output; other element types aggregate
// into a list. A partial output is recorded even when the stream fails.
func RunSeq[T any](ctx context.Context, name string, fn func(context.Context) iter.Seq2[T, error], opts ...RunOption) iter.Seq2[T, error] {
	cfg := applyRunOptions(opts)
	return func(yield func(T, error) bool) {
		s, runCtx := beginRun(ctx, name, cfg)

		var agg outputAggregator
		var streamErr error
		defer func() {
			s.finish(agg.value(), streamErr)
		}()

		for v, err := range fn(runCtx) {
			if err != nil {
				streamErr = err
			} else {
				agg.add(v)
			}
			if !yield(v, err) {
				return
			}
		}
	}
}

func applyRunOptions(opts []RunOption) runConfig {
	cfg := runConfig{kind: span.KindWorkflow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.kind == "" {
		cfg.kind = span.KindWorkflow
	}
	return cfg
}

// runSession tracks what a single Run invocation opened so finish can
// conclude exactly that.
type runSession struct {
	logger      *Logger
	ctx         context.Context
	cfg         runConfig
	name        string
	start       time.Time
	openedTrace bool
	opened      span.Container
}

func beginRun(ctx context.Context, name string, cfg runConfig) (*runSession, context.Context) {
	logger := cfg.logger
	if logger == nil {
		logger = Get(ctx)
	}
	if scopeFrom(ctx) == nil {
		ctx = NewScope(ctx)
	}

	s := &runSession{
		logger: logger,
		ctx:    ctx,
		cfg:    cfg,
		name:   name,
		start:  time.Now(),
	}

	if logger.CurrentParent(ctx) == nil {
		if _, err := logger.StartTrace(ctx, span.Args{
			Name:     name,
			Input:    cfg.input,
			Metadata: cfg.metadata,
			Tags:     cfg.tags,
		}); err != nil {
			logger.logger.Warn("failed to start trace for wrapped call", "name", name, "error", err)
		} else {
			s.openedTrace = true
		}
	}

	args := span.Args{
		Name:     name,
		Input:    cfg.input,
		Metadata: cfg.metadata,
		Tags:     cfg.tags,
	}
	switch cfg.kind {
	case span.KindAgent:
		if sp, err := logger.AddAgentSpan(ctx, args); err != nil {
			logger.logger.Warn("failed to add agent span", "name", name, "error", err)
		} else {
			s.opened = sp
		}
	case span.KindWorkflow:
		if sp, err := logger.AddWorkflowSpan(ctx, args); err != nil {
			logger.logger.Warn("failed to add workflow span", "name", name, "error", err)
		} else {
			s.opened = sp
		}
	default:
		// Leaf kinds are recorded in finish, once input and output are both
		// known.
	}
	return s, ctx
}

func (s *runSession) finish(output any, runErr error) {
	durationNs := time.Since(s.start).Nanoseconds()
	status := span.StatusOK
	if runErr != nil {
		status = span.StatusError
		if output == nil {
			output = runErr.Error()
		}
	}

	args := span.Args{
		Name:       s.name,
		Input:      s.cfg.input,
		Output:     output,
		DurationNs: durationNs,
		StatusCode: status,
		Metadata:   s.cfg.metadata,
		Tags:       s.cfg.tags,
	}
	var leafErr error
	switch s.cfg.kind {
	case span.KindLLM:
		_, leafErr = s.logger.AddLLMSpan(s.ctx, span.LLMArgs{Args: args})
	case span.KindRetriever:
		_, leafErr = s.logger.AddRetrieverSpan(s.ctx, span.RetrieverArgs{Args: args})
	case span.KindTool:
		_, leafErr = s.logger.AddToolSpan(s.ctx, span.ToolArgs{Args: args})
	}
	if leafErr != nil {
		s.logger.logger.Warn("failed to record leaf span", "name", s.name, "error", leafErr)
	}

	if s.opened != nil {
		s.concludeOwn(output, durationNs, status)
	}
	if s.openedTrace {
		if _, err := s.logger.Conclude(s.ctx, ConcludeArgs{
			Output:     output,
			DurationNs: durationNs,
			StatusCode: status,
		}); err != nil {
			s.logger.logger.Warn("failed to conclude trace for wrapped call", "name", s.name, "error", err)
		}
	}
}

// concludeOwn pops frames until the session's own container has been
// concluded, so spans the wrapped function opened and abandoned cannot leak
// past its extent.
func (s *runSession) concludeOwn(output any, durationNs int64, status span.StatusCode) {
	for {
		cur := s.logger.CurrentParent(s.ctx)
		if cur == nil {
			s.logger.logger.Warn("wrapped call's span was already concluded", "name", s.name)
			return
		}
		if cur == s.opened {
			if _, err := s.logger.Conclude(s.ctx, ConcludeArgs{
				Output:     output,
				DurationNs: durationNs,
				StatusCode: status,
			}); err != nil {
				s.logger.logger.Warn("failed to conclude span for wrapped call", "name", s.name, "error", err)
			}
			return
		}

		s.logger.logger.Warn("concluding span left open by wrapped function",
			"name", s.name, "kind", cur.Kind(), "span", cur.Name())
		if _, err := s.logger.Conclude(s.ctx, ConcludeArgs{}); err != nil {
			return
		}
	}
}

// outputAggregator folds a stream of yielded values into one span output.
type outputAggregator struct {
	sb        strings.Builder
	sawString bool
	items     []any
}

func (a *outputAggregator) add(v any) {
	if s, ok := v.(string); ok {
		a.sb.WriteString(s)
		a.sawString = true
		return
	}
	a.items = append(a.items, v)
}

func (a *outputAggregator) value() any {
	switch {
	case a.sawString && len(a.items) == 0:
		return a.sb.String()
	case len(a.items) > 0 && a.sawString:
		return append(a.items, a.sb.String())
	case len(a.items) > 0:
		return a.items
	default:
		return nil
	}
}
