// Package spangle is a client-side observability SDK for LLM application
// code. It records hierarchical execution traces (workflows, LLM calls, tool
// calls, retrieval calls, agent steps) as an in-memory tree and uploads them
// in batches to a collection service.
//
// A typical instrumented call:
//
//	logger := spangle.Get(ctx, spangle.WithProjectName("my-project"))
//	if _, err := logger.StartTrace(ctx, span.Args{Input: "question"}); err != nil { ... }
//	_, _ = logger.AddLLMSpan(ctx, span.LLMArgs{Args: span.Args{Input: "question", Output: "answer"}, Model: "gpt-4o"})
//	_, _ = logger.Conclude(ctx, spangle.ConcludeArgs{Output: "answer"})
//	_, _ = logger.Flush(ctx)
//
// For automatic lifecycle management wrap functions with Run or RunSeq, or
// use the openai, claude and callback subpackages to instrument clients and
// frameworks directly.
package spangle

import (
	"context"
	"sync"
)

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide registry, creating it on first
// use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Get resolves a logger from the process-wide registry.
func Get(ctx context.Context, opts ...Option) *Logger {
	return DefaultRegistry().Get(ctx, opts...)
}

// Default returns the process-wide registry's most recently used logger, or
// nil when none exists.
func Default() *Logger {
	return DefaultRegistry().Default()
}

// Flush flushes the matching logger in the process-wide registry.
func Flush(ctx context.Context, opts ...Option) error {
	return DefaultRegistry().Flush(ctx, opts...)
}

// FlushAll flushes every logger in the process-wide registry.
func FlushAll(ctx context.Context) error {
	return DefaultRegistry().FlushAll(ctx)
}

// Reset terminates and removes the matching logger from the process-wide
// registry.
func Reset(ctx context.Context, opts ...Option) {
	DefaultRegistry().Reset(ctx, opts...)
}

// ResetAll terminates and removes every logger from the process-wide
// registry. Tests use this to fully isolate registry state between cases.
func ResetAll(ctx context.Context) {
	DefaultRegistry().ResetAll(ctx)
}
