package spangle

import "errors"

var (
	// ErrTraceInProgress is returned by StartTrace when the current scope
	// already has an open trace.
	ErrTraceInProgress = errors.New("trace already in progress")

	// ErrNoTraceActive is returned by the AddXSpan operations when no trace
	// is open in the current scope.
	ErrNoTraceActive = errors.New("no trace available")

	// ErrNoOpenSpan is returned by Conclude when there is nothing to
	// conclude.
	ErrNoOpenSpan = errors.New("no existing workflow to conclude")

	// ErrCorruptedParentStack signals a structural bug in instrumentation
	// call order: the parent stack emptied on a frame that was not the
	// trace root.
	ErrCorruptedParentStack = errors.New("parent stack corrupted")
)
