package scope

import (
	"context"
	"errors"
	"time"
)

// Terminal transitions.
//
//	cancelled externally: the subtree sees the flag through its contexts; nobody else is touched.
//	failed:               subtree cancelled and the owning scope records the failure as soon
//	                      as it is seen, before the subtree has unwound. The first failure
//	                      recorded by a FailFast scope cancels the siblings and is handed one
//	                      level up (owner task or parent scope). Later ones are suppressed.
//	completed:            deregistration only.
//
// A task deregisters only after its own propagation has finished, so a scope
// never looks complete while a cancellation sweep it caused is still running.

// settle turns the body's outcome into a terminal state.
func (t *Task) settle(value any, bodyErr error, panicked bool) {
	if bodyErr != nil && !isCancellation(bodyErr, t.ctx.Err() != nil) {
		f := asFailure(t, bodyErr)
		t.noteFailure(f)
		t.cancel(f)
		t.raise(t.failure())
	}

	if children := t.seal(); children != nil {
		t.suspend(children.waitIdle)
	}

	if err := t.runCleanups(); err != nil {
		t.noteFailure(asFailure(t, err))
	}

	to, err := Completed, error(nil)
	if f := t.failure(); f != nil {
		to, err, value = Failed, f, nil
	} else if bodyErr != nil || t.ctx.Err() != nil {
		to, err, value = Cancelled, asCancelled(t.ctx, bodyErr), nil
	}
	t.finish(Active, to, value, err, panicked)
}

// abort finishes a task that was cancelled before its first step. Only
// cleanups registered at spawn time run.
func (t *Task) abort() {
	t.seal()
	if err := t.runCleanups(); err != nil {
		t.noteFailure(asFailure(t, err))
	}
	if f := t.failure(); f != nil {
		t.finish(Created, Failed, nil, f, false)
		return
	}
	t.finish(Created, Cancelled, nil, cancelled(t.ctx), false)
}

func (t *Task) finish(from, to State, value any, err error, panicked bool) {
	switch {
	case to == Failed:
		t.raise(err.(*TaskFailure))
	case t.owner != nil:
		t.owner.record(t, nil)
	default:
		t.seq = t.d.seq.Add(1)
	}
	t.value, t.err = value, err
	t.state.Store(int32(to))

	var elapsed time.Duration
	if !t.started.IsZero() {
		elapsed = time.Since(t.started)
	}
	t.notify(Transition{From: from, To: to, Elapsed: elapsed, Err: err, Panicked: panicked})

	t.cancel(errTaskDone)
	close(t.done)
	if t.owner != nil {
		t.owner.deregister(t)
	}
}

// noteFailure keeps the first failure seen by t and suppresses the rest.
func (t *Task) noteFailure(f *TaskFailure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.firstFail == nil:
		t.firstFail = f
	case t.firstFail != f:
		t.firstFail.suppress(f)
	}
}

func (t *Task) failure() *TaskFailure {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstFail
}

// childFailed is called when t's implicit scope saw its first failure: the
// failure becomes t's own and t's subtree is cancelled.
func (t *Task) childFailed(f *TaskFailure) {
	t.noteFailure(f)
	t.cancel(f)
	t.raise(t.failure())
}

// raise hands t's failure to its owning scope the moment it is known and
// stamps t's place in the failure order. Only the first call has an effect.
func (t *Task) raise(f *TaskFailure) {
	t.mu.Lock()
	if t.raised {
		t.mu.Unlock()
		return
	}
	t.raised = true
	first := false
	if t.owner != nil {
		first = t.owner.record(t, f)
	} else {
		t.seq = t.d.seq.Add(1)
	}
	t.mu.Unlock()
	if first {
		t.owner.escalate(f)
	}
}

// record stamps the transition order and keeps the scope's failure record.
// It reports whether f is the first failure of the scope.
func (s *Scope) record(t *Task, f *TaskFailure) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t != nil {
		t.seq = s.d.seq.Add(1)
	}
	if f == nil {
		return false
	}
	if s.firstErr == nil {
		s.firstErr = f
		return true
	}
	if f != s.firstErr {
		s.suppressed = append(s.suppressed, f)
		s.firstErr.suppress(f)
	}
	return false
}

// escalate applies the scope policy to its first failure.
func (s *Scope) escalate(f *TaskFailure) {
	s.d.log.Debug("scope: task failed", "task", f.TaskID, "name", f.Name, "policy", s.policy, "err", f.Cause)
	if s.policy != FailFast {
		return
	}
	s.Cancel(f)
	switch {
	case s.owner != nil:
		s.owner.childFailed(f)
	case s.parent != nil:
		if s.parent.record(nil, f) {
			s.parent.escalate(f)
		}
	}
}

func asCancelled(ctx context.Context, bodyErr error) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	var ce *CancelledError
	if errors.As(bodyErr, &ce) {
		return ce
	}
	return &CancelledError{Cause: bodyErr}
}
