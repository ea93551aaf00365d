package spangle_test

import (
	"context"
	"iter"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/spangle"
	"github.com/m-mizutani/spangle/span"
)

func TestRunRecordsTraceAndWorkflow(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	out := gt.R1(spangle.Run(ctx, "summarize", func(ctx context.Context) (string, error) {
		return "summary", nil
	}, spangle.WithRunLogger(logger), spangle.WithInput("long text"))).NoError(t)
	gt.Equal(t, out, "summary")

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).Required().At(0, func(t testing.TB, tr *span.Trace) {
		gt.Equal(t, tr.Name(), "summarize")
		gt.Equal(t, tr.Output(), any("summary"))
		gt.Equal(t, tr.StatusCode(), span.StatusOK)
	})

	children := gt.A(t, traces[0].Children()).Length(1).Required()
	children.At(0, func(t testing.TB, s span.Span) {
		gt.Equal(t, s.Kind(), span.KindWorkflow)
		gt.Equal(t, s.Output(), any("summary"))
		gt.N(t, s.Metrics().DurationNs).Greater(0)
	})
}

func TestRunError(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	boom := goerr.New("model unavailable")
	_, err := spangle.Run(ctx, "summarize", func(ctx context.Context) (string, error) {
		return "", boom
	}, spangle.WithRunLogger(logger))
	gt.B(t, err == boom).True()

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).At(0, func(t testing.TB, tr *span.Trace) {
		gt.Equal(t, tr.StatusCode(), span.StatusError)
		gt.Equal(t, tr.Output(), any("model unavailable"))
	})
}

func TestRunNested(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	_, err := spangle.Run(ctx, "outer", func(ctx context.Context) (string, error) {
		inner := gt.R1(spangle.Run(ctx, "inner", func(ctx context.Context) (int, error) {
			return 42, nil
		}, spangle.WithRunLogger(logger))).NoError(t)
		gt.Equal(t, inner, 42)
		return "ok", nil
	}, spangle.WithRunLogger(logger))
	gt.NoError(t, err)

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).Required()

	// outer workflow holds the inner one; nesting produced one trace
	outer := gt.Cast[span.Container](t, traces[0].Children()[0])
	gt.Equal(t, outer.Name(), "outer")
	inner := gt.Cast[span.Container](t, outer.Children()[0])
	gt.Equal(t, inner.Name(), "inner")
	gt.Equal(t, inner.Output(), any(42))
}

func TestRunLeafKind(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	gt.R1(spangle.Run(ctx, "lookup", func(ctx context.Context) (string, error) {
		return "found", nil
	}, spangle.WithRunLogger(logger), spangle.WithKind(span.KindTool), spangle.WithInput("key"))).NoError(t)

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	children := gt.A(t, traces[0].Children()).Length(1).Required()
	children.At(0, func(t testing.TB, s span.Span) {
		tool := gt.Cast[*span.Tool](t, s)
		gt.Equal(t, tool.Input(), any("key"))
		gt.Equal(t, tool.Output(), any("found"))
	})
}

func TestRunPanicStillConcludes(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	func() {
		defer func() {
			gt.Value(t, recover()).NotNil()
		}()
		_, _ = spangle.Run(ctx, "explode", func(ctx context.Context) (string, error) {
			panic("kaboom")
		}, spangle.WithRunLogger(logger))
	}()

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).At(0, func(t testing.TB, tr *span.Trace) {
		gt.Equal(t, tr.StatusCode(), span.StatusError)
	})
}

func TestRunConcludesAbandonedSpans(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	_, err := spangle.Run(ctx, "sloppy", func(ctx context.Context) (string, error) {
		// opened but never concluded by the wrapped function
		gt.R1(logger.AddWorkflowSpan(ctx, span.Args{Name: "leaked"})).NoError(t)
		return "done", nil
	}, spangle.WithRunLogger(logger))
	gt.NoError(t, err)

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).At(0, func(t testing.TB, tr *span.Trace) {
		gt.Equal(t, tr.StatusCode(), span.StatusOK)
	})
}

func TestRunSeqAggregatesStrings(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	seq := spangle.RunSeq(ctx, "stream", func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("a", nil) {
				return
			}
			yield("b", nil)
		}
	}, spangle.WithRunLogger(logger))

	var got []string
	for v, err := range seq {
		gt.NoError(t, err)
		got = append(got, v)
	}
	gt.Equal(t, got, []string{"a", "b"})

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).At(0, func(t testing.TB, tr *span.Trace) {
		gt.Equal(t, tr.Output(), any("ab"))
		gt.Equal(t, tr.StatusCode(), span.StatusOK)
	})
}

func TestRunSeqPartialOutputOnError(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	boom := goerr.New("stream broke")
	seq := spangle.RunSeq(ctx, "stream", func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("partial", nil) {
				return
			}
			yield("", boom)
		}
	}, spangle.WithRunLogger(logger))

	var sawErr error
	for _, err := range seq {
		if err != nil {
			sawErr = err
		}
	}
	gt.B(t, sawErr == boom).True()

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).At(0, func(t testing.TB, tr *span.Trace) {
		gt.Equal(t, tr.StatusCode(), span.StatusError)
		gt.Equal(t, tr.Output(), any("partial"))
	})
}

func TestRunSeqEarlyBreakFinalizes(t *testing.T) {
	logger := spangle.NewLogger()
	ctx := context.Background()

	seq := spangle.RunSeq(ctx, "stream", func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			for _, v := range []string{"x", "y", "z"} {
				if !yield(v, nil) {
					return
				}
			}
		}
	}, spangle.WithRunLogger(logger))

	for v := range seq {
		if v == "x" {
			break
		}
	}

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).At(0, func(t testing.TB, tr *span.Trace) {
		// only what was consumed before the break is recorded
		gt.Equal(t, tr.Output(), any("x"))
	})
}
