package callback_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/spangle"
	"github.com/m-mizutani/spangle/callback"
	"github.com/m-mizutani/spangle/span"
)

func TestHandlerCommitsOnRootEnd(t *testing.T) {
	logger := spangle.NewLogger()
	h := callback.NewHandler(logger)
	ctx := context.Background()

	root := uuid.New()
	llm := uuid.New()
	tool := uuid.New()

	h.OnChainStart(ctx, root, uuid.Nil, "qa-chain", "what is go?")
	h.OnLLMStart(ctx, llm, root, "gpt-4o", "what is go?", "gpt-4o", nil)
	h.OnLLMEnd(ctx, llm, "a language", callback.LLMUsage{InputTokens: 4, OutputTokens: 3, FinishReason: "stop"})
	h.OnToolStart(ctx, tool, root, "search", "go")
	h.OnToolEnd(ctx, tool, "results")

	// nothing is committed until the root run ends
	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(0)

	h.OnChainEnd(ctx, root, "done")

	traces = gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).Required()

	tr := traces[0]
	gt.Equal(t, tr.Name(), "qa-chain")
	gt.Equal(t, tr.Output(), any("done"))
	gt.Equal(t, tr.StatusCode(), span.StatusOK)

	children := gt.A(t, tr.Children()).Length(2).Required()
	children.At(0, func(t testing.TB, s span.Span) {
		call := gt.Cast[*span.LLM](t, s)
		gt.Equal(t, call.Model(), "gpt-4o")
		gt.Equal(t, call.InputTokens(), 4)
		gt.Equal(t, call.FinishReason(), "stop")
	})
	children.At(1, func(t testing.TB, s span.Span) {
		gt.Equal(t, s.Kind(), span.KindTool)
		gt.Equal(t, s.Name(), "search")
	})
}

func TestHandlerNestedAgent(t *testing.T) {
	logger := spangle.NewLogger()
	h := callback.NewHandler(logger)
	ctx := context.Background()

	root := uuid.New()
	agent := uuid.New()
	inner := uuid.New()

	h.OnChainStart(ctx, root, uuid.Nil, "chain", nil)
	h.OnAgentStart(ctx, agent, root, "planner", nil)
	h.OnLLMStart(ctx, inner, agent, "call", "plan this", "gpt-4o", nil)
	h.OnLLMEnd(ctx, inner, "the plan", callback.LLMUsage{})
	h.OnChainEnd(ctx, agent, "planned")
	h.OnChainEnd(ctx, root, "ok")

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).Required()

	children := gt.A(t, traces[0].Children()).Length(1).Required()
	children.At(0, func(t testing.TB, s span.Span) {
		gt.Equal(t, s.Kind(), span.KindAgent)
		agent := gt.Cast[span.Container](t, s)
		gt.A(t, agent.Children()).Length(1).At(0, func(t testing.TB, s span.Span) {
			gt.Equal(t, s.Kind(), span.KindLLM)
		})
	})
}

func TestHandlerErrorRun(t *testing.T) {
	logger := spangle.NewLogger()
	h := callback.NewHandler(logger)
	ctx := context.Background()

	root := uuid.New()
	llm := uuid.New()

	h.OnChainStart(ctx, root, uuid.Nil, "chain", nil)
	h.OnLLMStart(ctx, llm, root, "call", "q", "gpt-4o", nil)
	h.OnError(ctx, llm, goerr.New("rate limited"))
	h.OnError(ctx, root, goerr.New("chain aborted"))

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).Required()

	tr := traces[0]
	gt.Equal(t, tr.StatusCode(), span.StatusError)
	gt.Equal(t, tr.Output(), any("chain aborted"))

	gt.A(t, tr.Children()).Length(1).At(0, func(t testing.TB, s span.Span) {
		gt.Equal(t, s.StatusCode(), span.StatusError)
	})
}

func TestHandlerOrphanEventsSkipped(t *testing.T) {
	logger := spangle.NewLogger()
	h := callback.NewHandler(logger)
	ctx := context.Background()

	root := uuid.New()
	h.OnChainStart(ctx, root, uuid.Nil, "chain", nil)

	// events for unknown run IDs are dropped, not fatal
	h.OnToolEnd(ctx, uuid.New(), "no such run")
	h.OnToolStart(ctx, uuid.New(), uuid.New(), "orphan", nil)

	h.OnChainEnd(ctx, root, "ok")

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(1).Required()
	gt.A(t, traces[0].Children()).Length(0)
}

func TestHandlerReusableAfterCommit(t *testing.T) {
	logger := spangle.NewLogger()
	h := callback.NewHandler(logger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		root := uuid.New()
		h.OnChainStart(ctx, root, uuid.Nil, "chain", nil)
		h.OnChainEnd(ctx, root, "ok")
	}

	traces := gt.R1(logger.Flush(ctx)).NoError(t)
	gt.A(t, traces).Length(2)
}
