package span

import "slices"

// Document is one retrieved record in a retriever span's output.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrieverArgs holds the construction arguments for a retriever span.
type RetrieverArgs struct {
	Args
}

// Retriever records a retrieval call. Output is always an ordered document
// sequence, whatever shape the caller supplied.
type Retriever struct {
	Base

	output []Document
}

// NewRetriever creates a retriever span.
func NewRetriever(a RetrieverArgs) *Retriever {
	s := &Retriever{output: NormalizeDocuments(a.Output)}
	a.Output = nil
	s.Base = newBase("retriever", a.Args)
	return s
}

func (s *Retriever) Kind() Kind { return KindRetriever }

func (s *Retriever) Output() any {
	if s.output == nil {
		return nil
	}
	return s.output
}

// Documents returns the normalized output documents.
func (s *Retriever) Documents() []Document { return s.output }

func (s *Retriever) Conclude(output any, durationNs int64, status StatusCode) {
	if output != nil {
		s.output = NormalizeDocuments(output)
	}
	s.Base.Conclude(nil, durationNs, status)
}

// NormalizeDocuments coerces an arbitrary value into a document sequence.
func NormalizeDocuments(v any) []Document {
	switch v := v.(type) {
	case nil:
		return nil
	case []Document:
		return slices.Clone(v)
	case Document:
		return []Document{v}
	case string:
		return []Document{{Content: v}}
	case []string:
		docs := make([]Document, 0, len(v))
		for _, content := range v {
			docs = append(docs, Document{Content: content})
		}
		return docs
	case []any:
		docs := make([]Document, 0, len(v))
		for _, e := range v {
			switch e := e.(type) {
			case Document:
				docs = append(docs, e)
			case string:
				docs = append(docs, Document{Content: e})
			default:
				docs = append(docs, Document{Content: Stringify(e)})
			}
		}
		return docs
	default:
		return []Document{{Content: Stringify(v)}}
	}
}
