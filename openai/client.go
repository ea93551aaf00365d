// Package openai wraps the go-openai chat completion API so that each call
// is recorded as a single-LLM-span trace on a spangle logger.
package openai

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/m-mizutani/spangle"
	"github.com/m-mizutani/spangle/span"
)

// apiClient abstracts the go-openai methods used by the wrapper.
type apiClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Client is a recording wrapper around an OpenAI client. Methods have the
// same signatures as go-openai, so it can substitute the wrapped client at
// call sites.
type Client struct {
	api    apiClient
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
func Wrap(client *openai.Client, opts ...Option) *Client {
	c := &Client{api: client}
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

// CreateChatCompletion calls the wrapped client and records the exchange.
// The recorded output reflects the first choice. Failures are recorded with
// an error status; the response and error pass through unchanged.
func (c *Client) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	startedAt := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)

	args := requestArgs(req, startedAt)
	args.DurationNs = time.Since(startedAt).Nanoseconds()
	if err != nil {
		args.Output = err.Error()
		args.StatusCode = span.StatusError
	} else {
		args.StatusCode = span.StatusOK
		args.InputTokens = resp.Usage.PromptTokens
		args.OutputTokens = resp.Usage.CompletionTokens
		args.TotalTokens = resp.Usage.TotalTokens
		if len(resp.Choices) > 0 {
			choice := resp.Choices[0]
			args.Output = span.Message{Role: span.RoleAssistant, Content: choice.Message.Content}
			args.FinishReason = string(choice.FinishReason)
		}
	}
	c.record(ctx, args)

	return resp, err
}

// CreateChatCompletionStream calls the wrapped client and returns a stream
// that records the accumulated exchange once it is exhausted or closed.
func (c *Client) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*Stream, error) {
	startedAt := time.Now()
	inner, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		args := requestArgs(req, startedAt)
		args.DurationNs = time.Since(startedAt).Nanoseconds()
		args.Output = err.Error()
		args.StatusCode = span.StatusError
		c.record(ctx, args)
		return nil, err
	}

	return &Stream{
		inner:     inner,
		client:    c,
		ctx:       ctx,
		req:       req,
		startedAt: startedAt,
	}, nil
}

// record attaches the call under the currently open parent when one exists,
// and falls back to a one-shot single-span trace otherwise.
func (c *Client) record(ctx context.Context, args span.LLMArgs) {
	logger := c.resolveLogger(ctx)
	var err error
	if logger.CurrentParent(ctx) != nil {
		_, err = logger.AddLLMSpan(ctx, args)
	} else {
		_, err = logger.AddSingleLLMSpanTrace(ctx, args)
	}
	if err != nil {
		logger.Log().Warn("failed to record chat completion", "error", err)
	}
}

// Stream wraps a go-openai chat completion stream. Content deltas are
// accumulated as they are received; the recorded span is finalized exactly
// once, when Recv returns io.EOF or an error, or when Close is called while
// the stream is still open.
type Stream struct {
	inner     *openai.ChatCompletionStream
	client    *Client
	ctx       context.Context
	req       openai.ChatCompletionRequest
	startedAt time.Time

	content      strings.Builder
	finishReason string
	usage        *openai.Usage
	done         bool
}

// Recv returns the next chunk from the underlying stream.
func (s *Stream) Recv() (openai.ChatCompletionStreamResponse, error) {
	resp, err := s.inner.Recv()
	if err != nil {
		s.finalize(err)
		return resp, err
	}

	if resp.Usage != nil {
		s.usage = resp.Usage
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		s.content.WriteString(choice.Delta.Content)
		if choice.FinishReason != "" {
			s.finishReason = string(choice.FinishReason)
		}
	}
	return resp, nil
}

// Close closes the underlying stream. If the stream was abandoned before
// io.EOF, the partial output received so far is recorded.
func (s *Stream) Close() error {
	s.finalize(nil)
	return s.inner.Close()
}

func (s *Stream) finalize(recvErr error) {
	if s.done {
		return
	}
	s.done = true

	args := requestArgs(s.req, s.startedAt)
	args.DurationNs = time.Since(s.startedAt).Nanoseconds()
	args.Output = span.Message{Role: span.RoleAssistant, Content: s.content.String()}
	args.FinishReason = s.finishReason
	if s.usage != nil {
		args.InputTokens = s.usage.PromptTokens
		args.OutputTokens = s.usage.CompletionTokens
		args.TotalTokens = s.usage.TotalTokens
	}

	switch {
	case recvErr == nil || errors.Is(recvErr, io.EOF):
		args.StatusCode = span.StatusOK
	default:
		args.StatusCode = span.StatusError
		if s.content.Len() == 0 {
			args.Output = recvErr.Error()
		}
	}
	s.client.record(s.ctx, args)
}

func requestArgs(req openai.ChatCompletionRequest, startedAt time.Time) span.LLMArgs {
	args := span.LLMArgs{
		Args: span.Args{
			Name:      req.Model,
			Input:     requestMessages(req),
			CreatedAt: startedAt,
		},
		Model: req.Model,
	}
	if req.Temperature != 0 {
		t := float64(req.Temperature)
		args.Temperature = &t
	}
	for _, tool := range req.Tools {
		if tool.Function == nil {
			continue
		}
		args.Tools = append(args.Tools, span.ToolSpec{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
		})
	}
	return args
}

func requestMessages(req openai.ChatCompletionRequest) []span.Message {
	msgs := make([]span.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := m.Content
		if content == "" && len(m.MultiContent) > 0 {
			var b strings.Builder
			for _, part := range m.MultiContent {
				b.WriteString(part.Text)
			}
			content = b.String()
		}
		msgs = append(msgs, span.Message{
			Role:       span.Role(m.Role),
			Content:    content,
			ToolCallID: m.ToolCallID,
		})
	}
	return msgs
}
