package scope

import (
	"context"
	"runtime"
	"time"
)

// Suspension points. Each one gives the caller's permit back while it waits
// and reports a *CancelledError once the caller's task has been cancelled.
// They must be called from the task's own goroutine.

// park runs wait, releasing the permit of the task bound to ctx, if any.
func park(ctx context.Context, wait func()) {
	if t := taskFromContext(ctx); t != nil {
		t.suspend(wait)
		return
	}
	wait()
}

// Checkpoint returns a *CancelledError if ctx has been cancelled. It does not
// yield.
func Checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	return nil
}

// Sleep suspends for d or until the task is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := Checkpoint(ctx); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	park(ctx, func() {
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	})
	return Checkpoint(ctx)
}

// Yield lets other tasks waiting for the same class run first.
func Yield(ctx context.Context) error {
	if err := Checkpoint(ctx); err != nil {
		return err
	}
	park(ctx, runtime.Gosched)
	return Checkpoint(ctx)
}

// Blocking runs fn on a ClassIO permit and returns to the caller's class
// afterwards. Outside a task it just calls fn.
func Blocking(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := Checkpoint(ctx); err != nil {
		return err
	}
	t := taskFromContext(ctx)
	if t == nil {
		return fn(ctx)
	}
	prev := t.permit.Swap(noPermit)
	if Class(prev) == ClassIO {
		t.permit.Store(prev)
		return fn(ctx)
	}
	if prev != noPermit {
		t.d.release(Class(prev))
	}
	restore := func() {
		if prev != noPermit {
			_ = t.d.acquire(context.Background(), Class(prev))
			t.permit.Store(prev)
		}
	}
	if err := t.d.acquire(ctx, ClassIO); err != nil {
		restore()
		return cancelled(ctx)
	}
	t.permit.Store(int32(ClassIO))
	err := fn(ctx)
	if t.permit.Swap(noPermit) != noPermit {
		t.d.release(ClassIO)
	}
	restore()
	return err
}

// OnCleanup registers fn on the task bound to ctx. It returns false when ctx
// has no task or the task's cleanups already ran.
func OnCleanup(ctx context.Context, fn func()) bool {
	t := taskFromContext(ctx)
	if t == nil {
		return false
	}
	return t.OnCleanup(fn)
}

// Timeout spawns a watchdog next to target that cancels it with ErrTimeout
// after d. The watchdog ends as soon as target does.
func (s *Scope) Timeout(target *Task, d time.Duration) (*Task, error) {
	return s.Spawn(func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		park(ctx, func() {
			select {
			case <-target.Done():
			case <-timer.C:
				target.cancelWith(ErrTimeout)
			case <-ctx.Done():
			}
		})
		return nil
	}, WithName("timeout"))
}

// WithTimeout runs fn in a nested scope and cancels it after d. On expiry it
// returns a *CancelledError whose cause is ErrTimeout.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	return Run(ctx, func(ctx context.Context) (T, error) {
		var zero T
		s := FromContext(ctx)
		job, err := Async(s, fn, WithName("timed"))
		if err != nil {
			return zero, err
		}
		if _, err := s.Timeout(job.Task, d); err != nil {
			job.Cancel()
			return zero, err
		}
		return job.Await(ctx)
	}, opts...)
}
