package interactions

import "context"

// Redactor scrubs secrets from free text and reports how many it replaced.
type Redactor interface {
	Redact(text string) (string, int)
}

// RedactingSink scrubs the free-text fields of every interaction before
// handing it to the wrapped sink.
type RedactingSink struct {
	next     Sink
	redactor Redactor
}

// NewRedactingSink wraps next. A nil redactor returns next unchanged.
func NewRedactingSink(next Sink, r Redactor) Sink {
	if r == nil {
		return next
	}
	return &RedactingSink{next: next, redactor: r}
}

// Name implements Sink.
func (s *RedactingSink) Name() string { return s.next.Name() }

// Close implements Sink.
func (s *RedactingSink) Close() error { return s.next.Close() }

// Write implements Sink.
func (s *RedactingSink) Write(ctx context.Context, in Interaction) error {
	in.Query = s.scrub("query", in.Query)
	in.Response = s.scrub("response", in.Response)
	in.RAGContext = s.scrub("rag_context", in.RAGContext)
	in.Error = s.scrub("error", in.Error)
	return s.next.Write(ctx, in)
}

func (s *RedactingSink) scrub(field, text string) string {
	if text == "" {
		return text
	}
	out, n := s.redactor.Redact(text)
	if n > 0 {
		redactedTotal.WithLabelValues(field).Add(float64(n))
	}
	return out
}
