package span

import "github.com/google/uuid"

// Trace is the root container of one complete logged execution. It carries
// its own input, output and metadata distinct from any child span.
type Trace struct {
	StepWithChildren
}

// NewTrace creates a trace. Trace IDs are UUID v7 so that lexical order
// roughly follows creation order on the collection side.
func NewTrace(a Args) *Trace {
	t := &Trace{StepWithChildren{Base: newBase("trace", a)}}
	t.id = uuid.Must(uuid.NewV7())
	return t
}

func (t *Trace) Kind() Kind { return KindTrace }
