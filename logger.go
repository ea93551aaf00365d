package spangle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/spangle/span"
)

// Mode selects which remote identity a flush targets.
type Mode string

const (
	ModeLogging    Mode = "logging"
	ModeExperiment Mode = "experiment"
)

// Batch is the unit handed to an Exporter on flush.
type Batch struct {
	Project      string
	LogStream    string
	ExperimentID string
	Traces       []*span.Trace
}

// Exporter receives completed trace batches. transport.Client uploads them
// to the collection service; transport.FileExporter writes them to disk.
type Exporter interface {
	Export(ctx context.Context, batch Batch) error
}

type loggerConfig struct {
	project      string
	logStream    string
	experimentID string
	mode         Mode
	exporter     Exporter
	logger       *slog.Logger
}

// Option configures a Logger (and, through Registry.Get, which Logger is
// resolved).
type Option func(*loggerConfig)

// WithProjectName sets the project the logger uploads to.
func WithProjectName(project string) Option {
	return func(c *loggerConfig) {
		c.project = project
	}
}

// WithLogStreamName sets the log stream the logger uploads to.
func WithLogStreamName(logStream string) Option {
	return func(c *loggerConfig) {
		c.logStream = logStream
	}
}

// WithExperimentID targets an experiment instead of a log stream. Setting it
// switches the mode to ModeExperiment unless a mode is given explicitly.
func WithExperimentID(experimentID string) Option {
	return func(c *loggerConfig) {
		c.experimentID = experimentID
	}
}

// WithMode sets the logger mode explicitly.
func WithMode(mode Mode) Option {
	return func(c *loggerConfig) {
		c.mode = mode
	}
}

// WithExporter sets the flush destination. Without one, Flush returns the
// drained traces to the caller and uploads nothing.
func WithExporter(exporter Exporter) Option {
	return func(c *loggerConfig) {
		c.exporter = exporter
	}
}

// WithLogger sets the slog logger for diagnostics. Default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(c *loggerConfig) {
		c.logger = logger
	}
}

// Logger accumulates traces for one (project, log stream or experiment,
// mode) identity and enforces the span nesting invariants. All methods are
// safe for concurrent use; concurrent call chains stay isolated when each
// runs under its own scope (see NewScope).
type Logger struct {
	project      string
	logStream    string
	experimentID string
	mode         Mode
	exporter     Exporter
	logger       *slog.Logger

	mu           sync.Mutex
	traces       []*span.Trace
	defaultScope scope
}

// NewLogger creates a standalone Logger. Most callers should resolve loggers
// through the Registry instead so that repeated instrumentation calls share
// one buffer per identity.
func NewLogger(opts ...Option) *Logger {
	cfg := loggerConfig{
		project:   DefaultName,
		logStream: DefaultName,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.mode == "" {
		if cfg.experimentID != "" {
			cfg.mode = ModeExperiment
		} else {
			cfg.mode = ModeLogging
		}
	}

	return &Logger{
		project:      cfg.project,
		logStream:    cfg.logStream,
		experimentID: cfg.experimentID,
		mode:         cfg.mode,
		exporter:     cfg.exporter,
		logger:       cfg.logger,
	}
}

func (l *Logger) Project() string      { return l.project }
func (l *Logger) LogStream() string    { return l.logStream }
func (l *Logger) ExperimentID() string { return l.experimentID }
func (l *Logger) Mode() Mode           { return l.mode }

// Log returns the diagnostic slog logger.
func (l *Logger) Log() *slog.Logger { return l.logger }

// scopeOf resolves the parent stack for ctx: the context's own scope when
// one is present, the logger's default stack otherwise.
func (l *Logger) scopeOf(ctx context.Context) *scope {
	if sc := scopeFrom(ctx); sc != nil {
		return sc
	}
	return &l.defaultScope
}

// CurrentParent returns the container new spans would attach to, or nil when
// no trace is open. It never fails.
func (l *Logger) CurrentParent(ctx context.Context) span.Container {
	return l.scopeOf(ctx).top()
}

// StartTrace opens a new trace and makes it the current parent. It fails
// with ErrTraceInProgress when the current scope already has an open trace.
func (l *Logger) StartTrace(ctx context.Context, args span.Args) (*span.Trace, error) {
	t := span.NewTrace(args)
	if !l.scopeOf(ctx).startRoot(t) {
		return nil, goerr.Wrap(ErrTraceInProgress, "conclude the current trace before starting a new one",
			goerr.V("project", l.project))
	}

	l.mu.Lock()
	l.traces = append(l.traces, t)
	l.mu.Unlock()

	l.logger.Debug("trace started", "trace_id", t.ID(), "name", t.Name())
	return t, nil
}

// AddLLMSpan attaches an LLM span under the current parent. Leaf spans never
// change the parent stack.
func (l *Logger) AddLLMSpan(ctx context.Context, args span.LLMArgs) (*span.LLM, error) {
	s := span.NewLLM(args)
	if err := l.attach(ctx, s, false); err != nil {
		return nil, err
	}
	return s, nil
}

// AddRetrieverSpan attaches a retriever span under the current parent.
func (l *Logger) AddRetrieverSpan(ctx context.Context, args span.RetrieverArgs) (*span.Retriever, error) {
	s := span.NewRetriever(args)
	if err := l.attach(ctx, s, false); err != nil {
		return nil, err
	}
	return s, nil
}

// AddToolSpan attaches a tool span under the current parent.
func (l *Logger) AddToolSpan(ctx context.Context, args span.ToolArgs) (*span.Tool, error) {
	s := span.NewTool(args)
	if err := l.attach(ctx, s, false); err != nil {
		return nil, err
	}
	return s, nil
}

// AddWorkflowSpan attaches a workflow span under the current parent and
// makes it the new parent until concluded.
func (l *Logger) AddWorkflowSpan(ctx context.Context, args span.Args) (*span.Workflow, error) {
	s := span.NewWorkflow(args)
	if err := l.attach(ctx, s, true); err != nil {
		return nil, err
	}
	return s, nil
}

// AddAgentSpan attaches an agent span under the current parent and makes it
// the new parent until concluded.
func (l *Logger) AddAgentSpan(ctx context.Context, args span.Args) (*span.Agent, error) {
	s := span.NewAgent(args)
	if err := l.attach(ctx, s, true); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Logger) attach(ctx context.Context, s span.Span, push bool) error {
	if ok := l.scopeOf(ctx).attach(s, push); !ok {
		return goerr.Wrap(ErrNoTraceActive, "a trace needs to be created in order to add a span",
			goerr.V("kind", s.Kind()), goerr.V("name", s.Name()))
	}
	l.logger.Debug("span added", "kind", s.Kind(), "span_id", s.ID(), "name", s.Name())
	return nil
}

// ConcludeArgs are the optional fields applied to the span being concluded.
// A nil Output keeps the span's prior output; a concluded container never
// inherits a child's output.
type ConcludeArgs struct {
	Output     any
	DurationNs int64
	StatusCode span.StatusCode
}

// Conclude finalizes the current parent, pops it off the stack and returns
// the new current parent (nil when the trace itself concluded). It fails
// with ErrNoOpenSpan on an empty stack, and with ErrCorruptedParentStack
// when the stack empties on a frame that is not the trace root.
func (l *Logger) Conclude(ctx context.Context, args ConcludeArgs) (span.Container, error) {
	sc := l.scopeOf(ctx)
	popped, next, ok := sc.popTop()
	if !ok {
		return nil, goerr.Wrap(ErrNoOpenSpan, "conclude called with an empty parent stack")
	}

	popped.Conclude(args.Output, args.DurationNs, args.StatusCode)

	if next == nil {
		if _, isTrace := popped.(*span.Trace); !isTrace {
			sc.reset()
			l.logger.Error("parent stack emptied on a non-trace frame",
				"kind", popped.Kind(), "span_id", popped.ID())
			return nil, goerr.Wrap(ErrCorruptedParentStack, "parent stack emptied on a non-trace frame",
				goerr.V("kind", popped.Kind()), goerr.V("span_id", popped.ID()))
		}
		l.logger.Debug("trace concluded", "trace_id", popped.ID())
	}
	return next, nil
}

// Flush drains the accumulated traces and hands them to the exporter. An
// empty buffer is a no-op that logs a warning and returns an empty slice.
//
// The buffer is cleared before the upload begins, so the span tree is never
// mutated concurrently with the hand-off. On export failure the drained
// traces are dropped rather than retained: memory stays bounded and a
// transient outage cannot wedge the instrumented application. The error is
// returned so callers may react.
func (l *Logger) Flush(ctx context.Context) ([]*span.Trace, error) {
	l.mu.Lock()
	traces := l.traces
	l.traces = nil
	l.mu.Unlock()
	l.defaultScope.reset()

	if len(traces) == 0 {
		l.logger.Warn("flush called with no traces to upload", "project", l.project)
		return []*span.Trace{}, nil
	}

	if l.exporter != nil {
		batch := Batch{
			Project:      l.project,
			LogStream:    l.logStream,
			ExperimentID: l.experimentID,
			Traces:       traces,
		}
		if err := l.exporter.Export(ctx, batch); err != nil {
			l.logger.Error("failed to upload traces, dropping batch",
				"error", err, "count", len(traces), "project", l.project)
			return []*span.Trace{}, goerr.Wrap(err, "failed to export traces",
				goerr.V("count", len(traces)), goerr.V("project", l.project))
		}
	}

	l.logger.Debug("traces flushed", "count", len(traces), "project", l.project)
	return traces, nil
}

// Terminate flushes best-effort, suppressing errors. Intended for process
// teardown paths.
func (l *Logger) Terminate(ctx context.Context) {
	if _, err := l.Flush(ctx); err != nil {
		l.logger.Warn("flush during terminate failed", "error", err)
	}
}

// AddSingleLLMSpanTrace records a one-shot trace holding a single LLM span,
// concluded immediately. It fails under the same precondition as StartTrace.
func (l *Logger) AddSingleLLMSpanTrace(ctx context.Context, args span.LLMArgs) (*span.Trace, error) {
	t, err := l.StartTrace(ctx, span.Args{
		Name:       args.Name,
		Input:      args.Input,
		Output:     args.Output,
		CreatedAt:  args.CreatedAt,
		DurationNs: args.DurationNs,
		StatusCode: args.StatusCode,
		Metadata:   args.Metadata,
		Tags:       args.Tags,
	})
	if err != nil {
		return nil, err
	}
	if _, err := l.AddLLMSpan(ctx, args); err != nil {
		return nil, err
	}
	if _, err := l.Conclude(ctx, ConcludeArgs{}); err != nil {
		return nil, err
	}
	return t, nil
}
