package span

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// baseFields is the wire representation shared by all span kinds. The
// nesting shape (type discriminant plus a spans array on containers) is the
// contract the ingestion service accepts.
type baseFields struct {
	Type           Kind              `json:"type"`
	ID             uuid.UUID         `json:"id"`
	Name           string            `json:"name,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Input          any               `json:"input,omitempty"`
	Output         any               `json:"output,omitempty"`
	RedactedInput  any               `json:"redacted_input,omitempty"`
	RedactedOutput any               `json:"redacted_output,omitempty"`
	Metrics        *Metrics          `json:"metrics,omitempty"`
	StatusCode     StatusCode        `json:"status_code,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
}

func (b *Base) wire(kind Kind, input, output any) baseFields {
	f := baseFields{
		Type:           kind,
		ID:             b.id,
		Name:           b.name,
		CreatedAt:      b.createdAt,
		Input:          input,
		Output:         output,
		RedactedInput:  b.redactedInput,
		RedactedOutput: b.redactedOutput,
		StatusCode:     b.status,
		Metadata:       b.metadata,
		Tags:           b.tags,
	}
	if b.metrics != (Metrics{}) {
		m := b.metrics
		f.Metrics = &m
	}
	return f
}

// spansOf always yields a non-nil slice so containers serialize with a
// "spans" array even when empty.
func spansOf(children []Span) []Span {
	if children == nil {
		return []Span{}
	}
	return children
}

type containerJSON struct {
	baseFields
	Spans []Span `json:"spans"`
}

func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(containerJSON{t.wire(KindTrace, t.input, t.output), spansOf(t.children)})
}

func (s *Workflow) MarshalJSON() ([]byte, error) {
	return json.Marshal(containerJSON{s.wire(KindWorkflow, s.input, s.output), spansOf(s.children)})
}

func (s *Agent) MarshalJSON() ([]byte, error) {
	return json.Marshal(containerJSON{s.wire(KindAgent, s.input, s.output), spansOf(s.children)})
}

// llmMetrics extends the common metrics with token usage.
type llmMetrics struct {
	Metrics
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

func (s *LLM) MarshalJSON() ([]byte, error) {
	var output any
	if s.output != nil {
		output = *s.output
	}
	out := struct {
		baseFields
		Model        string     `json:"model,omitempty"`
		Temperature  *float64   `json:"temperature,omitempty"`
		Tools        []ToolSpec `json:"tools,omitempty"`
		FinishReason string     `json:"finish_reason,omitempty"`
		Metrics      llmMetrics `json:"metrics"`
	}{
		baseFields:   s.wire(KindLLM, s.input, output),
		Model:        s.model,
		Temperature:  s.temperature,
		Tools:        s.tools,
		FinishReason: s.finishReason,
		Metrics: llmMetrics{
			Metrics:      s.metrics,
			InputTokens:  s.inputTokens,
			OutputTokens: s.outputTokens,
			TotalTokens:  s.totalTokens,
		},
	}
	out.baseFields.Metrics = nil
	return json.Marshal(out)
}

func (s *Retriever) MarshalJSON() ([]byte, error) {
	var output any
	if s.output != nil {
		output = s.output
	}
	return json.Marshal(s.wire(KindRetriever, s.input, output))
}

func (s *Tool) MarshalJSON() ([]byte, error) {
	var output any
	if s.hasOutput {
		output = s.output
	}
	out := struct {
		baseFields
		ToolCallID string `json:"tool_call_id,omitempty"`
	}{s.wire(KindTool, s.input, output), s.toolCallID}
	return json.Marshal(out)
}
