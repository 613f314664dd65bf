package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDispatcherClosed is returned by Submit and Spawn after Shutdown.
	ErrDispatcherClosed = errors.New("scope: dispatcher closed")
	// ErrScopeClosed is returned when spawning into a scope whose owner has finished.
	ErrScopeClosed = errors.New("scope: scope closed")
	// ErrCancelled matches every *CancelledError.
	ErrCancelled = errors.New("scope: task cancelled")
	// ErrTimeout is the cancellation cause used by Timeout and WithTimeout.
	ErrTimeout = errors.New("scope: timeout")
	// ErrJoinCycle is returned when a task joins itself or one of its ancestors.
	ErrJoinCycle = errors.New("scope: join cycle")
)

// CancelledError reports that a task or scope was cancelled. Cause is the
// reason passed to the cancellation, if any.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil || e.Cause == context.Canceled {
		return ErrCancelled.Error()
	}
	return ErrCancelled.Error() + ": " + e.Cause.Error()
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// TaskFailure wraps the error that made a task fail. The same value travels up
// the tree when the failure propagates, so callers see the original task.
type TaskFailure struct {
	TaskID uint64
	Name   string
	Cause  error

	mu         sync.Mutex
	suppressed []error
}

func (f *TaskFailure) Error() string {
	if f.Name != "" {
		return fmt.Sprintf("scope: task %q (#%d) failed: %v", f.Name, f.TaskID, f.Cause)
	}
	return fmt.Sprintf("scope: task #%d failed: %v", f.TaskID, f.Cause)
}

func (f *TaskFailure) Unwrap() error { return f.Cause }

// Suppressed returns failures that arrived after this one in the same family
// and were recorded but not re-raised.
func (f *TaskFailure) Suppressed() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]error, len(f.suppressed))
	copy(out, f.suppressed)
	return out
}

func (f *TaskFailure) suppress(err error) {
	if err == nil || err == error(f) {
		return
	}
	f.mu.Lock()
	f.suppressed = append(f.suppressed, err)
	f.mu.Unlock()
}

// PanicError is the cause of a failure produced by a recovered panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func cancelled(ctx context.Context) error {
	return &CancelledError{Cause: context.Cause(ctx)}
}

// isCancellation reports whether a body error means "stopped" rather than
// "broken". The cause of a CancelledError may itself be a sibling's
// TaskFailure, so ErrCancelled is checked first.
func isCancellation(err error, flagged bool) bool {
	if errors.Is(err, ErrCancelled) {
		return true
	}
	var tf *TaskFailure
	if errors.As(err, &tf) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return flagged && errors.Is(err, context.DeadlineExceeded)
}

// asFailure wraps err unless it already is a TaskFailure travelling upward.
func asFailure(t *Task, err error) *TaskFailure {
	var tf *TaskFailure
	if errors.As(err, &tf) {
		return tf
	}
	return &TaskFailure{TaskID: t.id, Name: t.name, Cause: err}
}
