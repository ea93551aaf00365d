package spangle

import (
	"context"
	"sync"

	"github.com/m-mizutani/spangle/span"
)

// scope is the parent stack of one logical call chain. Each independently
// instrumented call gets its own scope, so interleaved concurrent work never
// observes or mutates another chain's open-span stack. The zero value is
// ready to use.
type scope struct {
	mu    sync.Mutex
	stack []span.Container
}

func (s *scope) push(c span.Container) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, c)
}

func (s *scope) pop() span.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return nil
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top
}

func (s *scope) top() span.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

func (s *scope) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

func (s *scope) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = nil
}

// startRoot pushes root as the first frame. It reports false when the stack
// is not empty: at most one trace may be open per scope.
func (s *scope) startRoot(root span.Container) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) != 0 {
		return false
	}
	s.stack = append(s.stack, root)
	return true
}

// attach appends child under the current top frame, optionally pushing it as
// the new insertion point. It reports false when no trace is open. The child
// must be a Container when push is true.
func (s *scope) attach(child span.Span, push bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return false
	}
	s.stack[len(s.stack)-1].AddChildren(child)
	if push {
		s.stack = append(s.stack, child.(span.Container))
	}
	return true
}

// popTop removes the top frame and returns it together with the new top
// (nil when the stack emptied). ok is false when there was nothing to pop.
func (s *scope) popTop() (popped, next span.Container, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return nil, nil, false
	}
	popped = s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	if len(s.stack) > 0 {
		next = s.stack[len(s.stack)-1]
	}
	return popped, next, true
}

type scopeKey struct{}

// NewScope returns a context carrying a fresh, empty parent stack. Logger
// operations called with the returned context resolve the current parent
// against this stack instead of the logger's default one.
//
// Scopes nest: an inner NewScope shadows the outer stack for its dynamic
// extent, and the outer stack is untouched when the inner context goes out
// of scope, whether or not an error occurred.
func NewScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{})
}

// scopeFrom returns the scope carried by ctx, or nil when ctx is outside any
// scope. Absence is defined behavior, not an error: callers fall back to the
// logger's default stack.
func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// Ambient identity values consulted by Registry.Get, between explicit
// options and environment fallback.

type ctxProjectKey struct{}
type ctxLogStreamKey struct{}
type ctxExperimentKey struct{}

// WithProject stores a project name in the context.
func WithProject(ctx context.Context, project string) context.Context {
	return context.WithValue(ctx, ctxProjectKey{}, project)
}

// WithLogStream stores a log stream name in the context.
func WithLogStream(ctx context.Context, logStream string) context.Context {
	return context.WithValue(ctx, ctxLogStreamKey{}, logStream)
}

// WithExperiment stores an experiment ID in the context.
func WithExperiment(ctx context.Context, experimentID string) context.Context {
	return context.WithValue(ctx, ctxExperimentKey{}, experimentID)
}

func projectFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxProjectKey{}).(string)
	return v
}

func logStreamFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxLogStreamKey{}).(string)
	return v
}

func experimentFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxExperimentKey{}).(string)
	return v
}
