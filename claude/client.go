// Package claude wraps the Anthropic messages API so that each call is
// recorded as a single-LLM-span trace on a spangle logger.
package claude

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/m-mizutani/spangle"
	"github.com/m-mizutani/spangle/span"
)

// messageAPI abstracts the Anthropic message service used by the wrapper.
type messageAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client is a recording wrapper around an Anthropic client.
type Client struct {
	api    messageAPI
	logger *spangle.Logger
}

// Option configures a wrapped client.
type Option func(*Client)

// WithLogger pins the logger used to record calls. Without it the wrapper
// resolves a logger from the calling context on every call.
func WithLogger(logger *spangle.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Wrap returns a recording wrapper around the given client.
func Wrap(client *anthropic.Client, opts ...Option) *Client {
	c := &Client{api: &client.Messages}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) resolveLogger(ctx context.Context) *spangle.Logger {
	if c.logger != nil {
		return c.logger
	}
	return spangle.Get(ctx)
}

// NewMessage calls the wrapped message service and records the exchange.
// Failures are recorded with an error status; the response and error pass
// through unchanged.
func (c *Client) NewMessage(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	startedAt := time.Now()
	resp, err := c.api.New(ctx, params, opts...)

	args := requestArgs(params, startedAt)
	args.DurationNs = time.Since(startedAt).Nanoseconds()
	if err != nil {
		args.Output = err.Error()
		args.StatusCode = span.StatusError
	} else {
		args.StatusCode = span.StatusOK
		args.Output = span.Message{Role: span.RoleAssistant, Content: responseText(resp)}
		args.InputTokens = int(resp.Usage.InputTokens)
		args.OutputTokens = int(resp.Usage.OutputTokens)
		args.FinishReason = string(resp.StopReason)
	}

	logger := c.resolveLogger(ctx)
	var recErr error
	if logger.CurrentParent(ctx) != nil {
		_, recErr = logger.AddLLMSpan(ctx, args)
	} else {
		_, recErr = logger.AddSingleLLMSpanTrace(ctx, args)
	}
	if recErr != nil {
		logger.Log().Warn("failed to record message call", "error", recErr)
	}

	return resp, err
}

func requestArgs(params anthropic.MessageNewParams, startedAt time.Time) span.LLMArgs {
	args := span.LLMArgs{
		Args: span.Args{
			Name:      string(params.Model),
			Input:     requestMessages(params),
			CreatedAt: startedAt,
		},
		Model: string(params.Model),
	}
	if params.Temperature.Valid() {
		t := params.Temperature.Value
		args.Temperature = &t
	}
	for _, tool := range params.Tools {
		if tool.OfTool == nil {
			continue
		}
		spec := span.ToolSpec{Name: tool.OfTool.Name}
		if tool.OfTool.Description.Valid() {
			spec.Description = tool.OfTool.Description.Value
		}
		args.Tools = append(args.Tools, spec)
	}
	return args
}

// requestMessages flattens the request into role/content pairs. Content
// block unions are serialized as JSON rather than decoded per variant.
func requestMessages(params anthropic.MessageNewParams) []span.Message {
	msgs := make([]span.Message, 0, len(params.Messages))
	for _, m := range params.Messages {
		msgs = append(msgs, span.Message{
			Role:    span.Role(m.Role),
			Content: span.Stringify(m.Content),
		})
	}
	return msgs
}

func responseText(resp *anthropic.Message) string {
	var b strings.Builder
	for _, content := range resp.Content {
		block := content.AsText()
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
