package span

import "slices"

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the canonical I/O shape of an LLM span. Caller-supplied input
// and output are normalized into this form at construction.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSpec describes a tool made available to the model during a call.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// LLMArgs holds the construction arguments for an LLM span.
type LLMArgs struct {
	Args
	Model        string
	Temperature  *float64
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Tools        []ToolSpec
	FinishReason string
}

// LLM records a single model invocation. Input is always a message sequence
// and output a single message, whatever shape the caller supplied.
type LLM struct {
	Base

	input        []Message
	output       *Message
	model        string
	temperature  *float64
	inputTokens  int
	outputTokens int
	totalTokens  int
	tools        []ToolSpec
	finishReason string
}

// NewLLM creates an LLM span, normalizing input and output into the
// message representation.
func NewLLM(a LLMArgs) *LLM {
	s := &LLM{
		input:        NormalizeMessages(a.Input),
		model:        a.Model,
		temperature:  a.Temperature,
		inputTokens:  a.InputTokens,
		outputTokens: a.OutputTokens,
		totalTokens:  a.TotalTokens,
		tools:        slices.Clone(a.Tools),
		finishReason: a.FinishReason,
	}
	if s.totalTokens == 0 {
		s.totalTokens = a.InputTokens + a.OutputTokens
	}
	output := a.Output
	a.Input, a.Output = nil, nil
	s.Base = newBase("llm", a.Args)
	if output != nil {
		msg := NormalizeMessage(output, RoleAssistant)
		s.output = &msg
	}
	return s
}

func (s *LLM) Kind() Kind { return KindLLM }

func (s *LLM) Input() any { return s.input }

// Messages returns the normalized input messages.
func (s *LLM) Messages() []Message { return s.input }

func (s *LLM) Output() any {
	if s.output == nil {
		return nil
	}
	return *s.output
}

func (s *LLM) Model() string        { return s.model }
func (s *LLM) Temperature() *float64 { return s.temperature }
func (s *LLM) InputTokens() int     { return s.inputTokens }
func (s *LLM) OutputTokens() int    { return s.outputTokens }
func (s *LLM) TotalTokens() int     { return s.totalTokens }
func (s *LLM) Tools() []ToolSpec    { return s.tools }
func (s *LLM) FinishReason() string { return s.finishReason }

func (s *LLM) Conclude(output any, durationNs int64, status StatusCode) {
	if output != nil {
		msg := NormalizeMessage(output, RoleAssistant)
		s.output = &msg
	}
	s.Base.Conclude(nil, durationNs, status)
}

// NormalizeMessages coerces an arbitrary value into a message sequence.
// Strings become a single user message; unrecognized values are
// JSON-stringified into one.
func NormalizeMessages(v any) []Message {
	switch v := v.(type) {
	case nil:
		return nil
	case []Message:
		return slices.Clone(v)
	case Message:
		return []Message{v}
	case *Message:
		if v == nil {
			return nil
		}
		return []Message{*v}
	case string:
		return []Message{{Role: RoleUser, Content: v}}
	case []string:
		msgs := make([]Message, 0, len(v))
		for _, content := range v {
			msgs = append(msgs, Message{Role: RoleUser, Content: content})
		}
		return msgs
	default:
		return []Message{{Role: RoleUser, Content: Stringify(v)}}
	}
}

// NormalizeMessage coerces an arbitrary value into a single message with the
// given default role.
func NormalizeMessage(v any, role Role) Message {
	switch v := v.(type) {
	case Message:
		return v
	case *Message:
		if v == nil {
			return Message{Role: role}
		}
		return *v
	case string:
		return Message{Role: role, Content: v}
	default:
		return Message{Role: role, Content: Stringify(v)}
	}
}
