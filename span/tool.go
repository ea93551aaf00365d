package span

// ToolArgs holds the construction arguments for a tool span.
type ToolArgs struct {
	Args
	ToolCallID string
}

// Tool records a single tool invocation. Input and output are stored as
// strings; non-string values are JSON-stringified.
type Tool struct {
	Base

	input      string
	output     string
	hasOutput  bool
	toolCallID string
}

// NewTool creates a tool span.
func NewTool(a ToolArgs) *Tool {
	s := &Tool{
		input:      Stringify(a.Input),
		toolCallID: a.ToolCallID,
	}
	if a.Output != nil {
		s.output = Stringify(a.Output)
		s.hasOutput = true
	}
	a.Input, a.Output = nil, nil
	s.Base = newBase("tool", a.Args)
	return s
}

func (s *Tool) Kind() Kind { return KindTool }

func (s *Tool) Input() any { return s.input }

func (s *Tool) Output() any {
	if !s.hasOutput {
		return nil
	}
	return s.output
}

func (s *Tool) ToolCallID() string { return s.toolCallID }

func (s *Tool) Conclude(output any, durationNs int64, status StatusCode) {
	if output != nil {
		s.output = Stringify(output)
		s.hasOutput = true
	}
	s.Base.Conclude(nil, durationNs, status)
}
