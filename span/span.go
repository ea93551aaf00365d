// Package span defines the in-memory tree structure of recorded LLM
// application execution: a Trace root that owns an ordered tree of typed
// spans (workflow, agent, llm, retriever, tool).
//
// The span kinds form a closed set. Container kinds (trace, workflow, agent)
// own an ordered, append-only sequence of child spans. Leaf kinds (llm,
// retriever, tool) cannot hold children. A span belongs to exactly one parent
// for its lifetime.
package span

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Kind is the type discriminant of a span. It is fixed at construction and
// never changes.
type Kind string

const (
	KindTrace     Kind = "trace"
	KindWorkflow  Kind = "workflow"
	KindAgent     Kind = "agent"
	KindLLM       Kind = "llm"
	KindRetriever Kind = "retriever"
	KindTool      Kind = "tool"
)

// StatusCode is an HTTP-flavored status attached to a concluded span.
// Zero means unset.
type StatusCode int

const (
	StatusOK    StatusCode = 200
	StatusError StatusCode = 500
)

// Metrics holds timing data for a span.
type Metrics struct {
	DurationNs int64 `json:"duration_ns,omitempty"`
}

// Span is implemented by all span variants. The set of implementations is
// closed: Trace, Workflow, Agent, LLM, Retriever and Tool.
type Span interface {
	ID() uuid.UUID
	Kind() Kind
	Name() string
	CreatedAt() time.Time
	Input() any
	Output() any
	StatusCode() StatusCode
	Metrics() Metrics
	Metadata() map[string]string
	Tags() []string

	// Conclude sets the final output (only when a non-nil value is given),
	// the status code (only when non-zero) and the duration (only when
	// positive). A span must not be mutated after its owning trace is
	// flushed.
	Conclude(output any, durationNs int64, status StatusCode)

	json.Marshaler

	isSpan()
}

// Container is a span that owns child spans: Trace, Workflow or Agent.
type Container interface {
	Span

	// AddChildren appends spans to the end of the child sequence,
	// preserving call order. Children are never removed or re-parented.
	AddChildren(children ...Span)
	Children() []Span
}

// Args holds the caller-supplied fields common to all span kinds.
// Structured Input/Output values are deep-copied at construction so later
// caller mutation cannot alter the recorded span.
type Args struct {
	Name           string
	Input          any
	Output         any
	RedactedInput  any
	RedactedOutput any
	CreatedAt      time.Time
	DurationNs     int64
	StatusCode     StatusCode
	Metadata       map[string]string
	Tags           []string
}

// Base holds the fields shared by every span variant.
type Base struct {
	id             uuid.UUID
	name           string
	createdAt      time.Time
	input          any
	output         any
	redactedInput  any
	redactedOutput any
	status         StatusCode
	metrics        Metrics
	metadata       map[string]string
	tags           []string
}

func newBase(defaultName string, a Args) Base {
	name := a.Name
	if name == "" {
		name = defaultName
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	b := Base{
		id:        uuid.New(),
		name:      name,
		createdAt: createdAt,
		input:     deepCopy(a.Input),
		status:    a.StatusCode,
		metadata:  maps.Clone(a.Metadata),
		tags:      slices.Clone(a.Tags),
	}
	if a.Output != nil {
		b.output = deepCopy(a.Output)
	}
	if a.RedactedInput != nil {
		b.redactedInput = deepCopy(a.RedactedInput)
	}
	if a.RedactedOutput != nil {
		b.redactedOutput = deepCopy(a.RedactedOutput)
	}
	if a.DurationNs > 0 {
		b.metrics.DurationNs = a.DurationNs
	}
	return b
}

func (b *Base) ID() uuid.UUID              { return b.id }
func (b *Base) Name() string               { return b.name }
func (b *Base) CreatedAt() time.Time       { return b.createdAt }
func (b *Base) Input() any                 { return b.input }
func (b *Base) Output() any                { return b.output }
func (b *Base) RedactedInput() any         { return b.redactedInput }
func (b *Base) RedactedOutput() any        { return b.redactedOutput }
func (b *Base) StatusCode() StatusCode     { return b.status }
func (b *Base) Metrics() Metrics           { return b.metrics }
func (b *Base) Metadata() map[string]string { return b.metadata }
func (b *Base) Tags() []string             { return b.tags }

func (b *Base) Conclude(output any, durationNs int64, status StatusCode) {
	if output != nil {
		b.output = deepCopy(output)
	}
	if status != 0 {
		b.status = status
	}
	if durationNs > 0 {
		b.metrics.DurationNs = durationNs
	}
}

func (b *Base) isSpan() {}

// StepWithChildren is the shared implementation of container spans.
type StepWithChildren struct {
	Base
	children []Span
}

func (s *StepWithChildren) AddChildren(children ...Span) {
	s.children = append(s.children, children...)
}

func (s *StepWithChildren) Children() []Span { return s.children }

// Workflow groups a sequence of sub-operations under one logical step.
type Workflow struct {
	StepWithChildren
}

// NewWorkflow creates a workflow span.
func NewWorkflow(a Args) *Workflow {
	return &Workflow{StepWithChildren{Base: newBase("workflow", a)}}
}

func (s *Workflow) Kind() Kind { return KindWorkflow }

// Agent is a container span for an autonomous agent step. Structurally it
// behaves exactly like a workflow; the kind distinguishes it on the wire.
type Agent struct {
	StepWithChildren
}

// NewAgent creates an agent span.
func NewAgent(a Args) *Agent {
	return &Agent{StepWithChildren{Base: newBase("agent", a)}}
}

func (s *Agent) Kind() Kind { return KindAgent }
