// Package callback adapts callback-driven frameworks (chain/agent
// orchestrators that report lifecycle events keyed by run ID) to the
// spangle logger. Events build a span tree out-of-band; the tree is
// committed as one trace when the root event ends.
package callback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/spangle"
	"github.com/m-mizutani/spangle/span"
)

// node is one in-flight framework run, keyed by the framework's run ID.
type node struct {
	id       uuid.UUID
	parent   uuid.UUID
	kind     span.Kind
	name     string
	input    any
	output   any
	err      error
	start    time.Time
	end      time.Time
	children []*node

	model        string
	temperature  *float64
	inputTokens  int
	outputTokens int
	finishReason string
}

// LLMUsage carries model call statistics reported by the framework at the
// end of an LLM run.
type LLMUsage struct {
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// Handler accumulates framework lifecycle events into a span tree and
// commits it to the logger when the root run ends. All methods are safe for
// concurrent use.
type Handler struct {
	logger *spangle.Logger
	log    *slog.Logger

	mu      sync.Mutex
	nodes   map[uuid.UUID]*node
	root    uuid.UUID
	hasRoot bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the slog logger for diagnostics. Default discards.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

// NewHandler creates a Handler committing into the given spangle logger.
func NewHandler(logger *spangle.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger: logger,
		log:    slog.New(slog.DiscardHandler),
		nodes:  make(map[uuid.UUID]*node),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnChainStart records the start of a chain run as a workflow node. A run
// with no parent becomes the root; the trace is committed when it ends.
func (h *Handler) OnChainStart(ctx context.Context, runID, parentRunID uuid.UUID, name string, input any) {
	h.startNode(ctx, runID, parentRunID, span.KindWorkflow, name, input)
}

// OnAgentStart records the start of an agent run.
func (h *Handler) OnAgentStart(ctx context.Context, runID, parentRunID uuid.UUID, name string, input any) {
	h.startNode(ctx, runID, parentRunID, span.KindAgent, name, input)
}

// OnLLMStart records the start of an LLM call run.
func (h *Handler) OnLLMStart(ctx context.Context, runID, parentRunID uuid.UUID, name string, input any, model string, temperature *float64) {
	n := h.startNode(ctx, runID, parentRunID, span.KindLLM, name, input)
	if n == nil {
		return
	}
	h.mu.Lock()
	n.model = model
	n.temperature = temperature
	h.mu.Unlock()
}

// OnToolStart records the start of a tool call run.
func (h *Handler) OnToolStart(ctx context.Context, runID, parentRunID uuid.UUID, name string, input any) {
	h.startNode(ctx, runID, parentRunID, span.KindTool, name, input)
}

// OnRetrieverStart records the start of a retrieval run.
func (h *Handler) OnRetrieverStart(ctx context.Context, runID, parentRunID uuid.UUID, name string, query any) {
	h.startNode(ctx, runID, parentRunID, span.KindRetriever, name, query)
}

// OnChainEnd records the end of a chain or agent run. Ending the root run
// commits the accumulated tree as one trace.
func (h *Handler) OnChainEnd(ctx context.Context, runID uuid.UUID, output any) {
	h.endNode(ctx, runID, output, nil)
}

// OnLLMEnd records the end of an LLM call run with its usage statistics.
func (h *Handler) OnLLMEnd(ctx context.Context, runID uuid.UUID, output any, usage LLMUsage) {
	h.mu.Lock()
	if n, ok := h.nodes[runID]; ok {
		n.inputTokens = usage.InputTokens
		n.outputTokens = usage.OutputTokens
		n.finishReason = usage.FinishReason
	}
	h.mu.Unlock()
	h.endNode(ctx, runID, output, nil)
}

// OnToolEnd records the end of a tool call run.
func (h *Handler) OnToolEnd(ctx context.Context, runID uuid.UUID, output any) {
	h.endNode(ctx, runID, output, nil)
}

// OnRetrieverEnd records the end of a retrieval run.
func (h *Handler) OnRetrieverEnd(ctx context.Context, runID uuid.UUID, documents any) {
	h.endNode(ctx, runID, documents, nil)
}

// OnError records a failed run. Ending the root run with an error still
// commits the partial tree.
func (h *Handler) OnError(ctx context.Context, runID uuid.UUID, err error) {
	h.endNode(ctx, runID, nil, err)
}

func (h *Handler) startNode(ctx context.Context, runID, parentRunID uuid.UUID, kind span.Kind, name string, input any) *node {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[runID]; exists {
		h.log.Warn("duplicate run id, event skipped", "run_id", runID)
		return nil
	}

	n := &node{
		id:     runID,
		parent: parentRunID,
		kind:   kind,
		name:   name,
		input:  input,
		start:  time.Now(),
	}

	switch {
	case parentRunID == uuid.Nil && !h.hasRoot:
		h.root = runID
		h.hasRoot = true
	case parentRunID == uuid.Nil:
		h.log.Warn("second parentless run while root is open, attaching under root", "run_id", runID)
		n.parent = h.root
		h.nodes[h.root].children = append(h.nodes[h.root].children, n)
	default:
		parent, ok := h.nodes[parentRunID]
		if !ok {
			h.log.Warn("unknown parent run id, event skipped", "run_id", runID, "parent_run_id", parentRunID)
			return nil
		}
		parent.children = append(parent.children, n)
	}

	h.nodes[runID] = n
	return n
}

func (h *Handler) endNode(ctx context.Context, runID uuid.UUID, output any, err error) {
	h.mu.Lock()
	n, ok := h.nodes[runID]
	if !ok {
		h.mu.Unlock()
		h.log.Warn("unknown run id, event skipped", "run_id", runID)
		return
	}
	n.end = time.Now()
	n.output = output
	n.err = err

	isRoot := h.hasRoot && runID == h.root
	var root *node
	if isRoot {
		root = h.nodes[h.root]
		h.nodes = make(map[uuid.UUID]*node)
		h.hasRoot = false
	}
	h.mu.Unlock()

	if isRoot {
		h.commit(ctx, root)
	}
}

// commit replays the finished tree into the logger under a fresh scope so
// concurrent instrumentation cannot interleave with it.
func (h *Handler) commit(ctx context.Context, root *node) {
	ctx = spangle.NewScope(ctx)

	if _, err := h.logger.StartTrace(ctx, span.Args{
		Name:      root.name,
		Input:     root.input,
		CreatedAt: root.start,
	}); err != nil {
		h.log.Error("failed to commit trace from callback events", "error", err)
		return
	}

	for _, child := range root.children {
		h.emit(ctx, child)
	}

	if _, err := h.logger.Conclude(ctx, concludeArgs(root)); err != nil {
		h.log.Error("failed to conclude committed trace", "error", err)
	}
}

func (h *Handler) emit(ctx context.Context, n *node) {
	args := span.Args{
		Name:       n.name,
		Input:      n.input,
		Output:     nodeOutput(n),
		CreatedAt:  n.start,
		DurationNs: nodeDuration(n),
		StatusCode: nodeStatus(n),
	}

	var err error
	switch n.kind {
	case span.KindWorkflow, span.KindAgent:
		if n.kind == span.KindAgent {
			_, err = h.logger.AddAgentSpan(ctx, args)
		} else {
			_, err = h.logger.AddWorkflowSpan(ctx, args)
		}
		if err != nil {
			break
		}
		for _, child := range n.children {
			h.emit(ctx, child)
		}
		_, err = h.logger.Conclude(ctx, spangle.ConcludeArgs{})
	case span.KindLLM:
		_, err = h.logger.AddLLMSpan(ctx, span.LLMArgs{
			Args:         args,
			Model:        n.model,
			Temperature:  n.temperature,
			InputTokens:  n.inputTokens,
			OutputTokens: n.outputTokens,
			FinishReason: n.finishReason,
		})
	case span.KindRetriever:
		_, err = h.logger.AddRetrieverSpan(ctx, span.RetrieverArgs{Args: args})
	case span.KindTool:
		_, err = h.logger.AddToolSpan(ctx, span.ToolArgs{Args: args})
	}
	if err != nil {
		h.log.Error("failed to emit span from callback events", "run_id", n.id, "kind", n.kind, "error", err)
	}
}

func concludeArgs(n *node) spangle.ConcludeArgs {
	return spangle.ConcludeArgs{
		Output:     nodeOutput(n),
		DurationNs: nodeDuration(n),
		StatusCode: nodeStatus(n),
	}
}

func nodeOutput(n *node) any {
	if n.output == nil && n.err != nil {
		return n.err.Error()
	}
	return n.output
}

func nodeDuration(n *node) int64 {
	if n.end.IsZero() {
		return 0
	}
	return n.end.Sub(n.start).Nanoseconds()
}

func nodeStatus(n *node) span.StatusCode {
	switch {
	case n.err != nil:
		return span.StatusError
	case n.end.IsZero():
		return 0
	default:
		return span.StatusOK
	}
}
