package scope

import (
	"context"
	"errors"
)

// Deferred is a task that produces a value of type T.
type Deferred[T any] struct {
	*Task
}

// Async spawns fn into s and returns a handle to its value.
func Async[T any](s *Scope, fn func(ctx context.Context) (T, error), opts ...SpawnOption) (*Deferred[T], error) {
	if fn == nil {
		return nil, errNilFunc
	}
	t, err := s.spawn(func(ctx context.Context) (any, error) { return fn(ctx) }, opts)
	if err != nil {
		return nil, err
	}
	return &Deferred[T]{Task: t}, nil
}

// Await waits for the value. A failed task returns its *TaskFailure and a
// cancelled one a *CancelledError.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	var zero T
	if err := d.Join(ctx, ReportCancelled()); err != nil {
		return zero, err
	}
	v, _ := d.value.(T)
	return v, nil
}

// AwaitAll waits until every task is terminal, even after one of them has
// failed, and returns their results in order. The error is the failure that
// was recorded first. Cancellation of ctx does not cut the wait short; it only
// lets a calling task give up its permit while waiting.
func AwaitAll(ctx context.Context, tasks ...*Task) ([]Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if err := t.checkCycle(ctx); err != nil {
			return nil, err
		}
	}
	park(ctx, func() {
		for _, t := range tasks {
			if t != nil {
				<-t.done
			}
		}
	})

	results := make([]Result, len(tasks))
	var first *Task
	for i, t := range tasks {
		if t == nil {
			continue
		}
		results[i] = t.Result()
		if results[i].State == Failed && (first == nil || t.seq < first.seq) {
			first = t
		}
	}
	if first != nil {
		return results, first.err
	}
	return results, nil
}

// AwaitValues is the typed form of AwaitAll. A cancelled task yields its
// *CancelledError because it has no value.
func AwaitValues[T any](ctx context.Context, ds ...*Deferred[T]) ([]T, error) {
	tasks := make([]*Task, len(ds))
	for i, d := range ds {
		if d != nil {
			tasks[i] = d.Task
		}
	}
	results, err := AwaitAll(ctx, tasks...)
	if err != nil {
		return nil, err
	}
	values := make([]T, len(results))
	for i, r := range results {
		if r.State == Cancelled {
			return nil, r.Err
		}
		values[i], _ = r.Value.(T)
	}
	return values, nil
}

// Run spawns root as the only task of a fresh FailFast scope, waits until
// everything under it is terminal and returns root's value or failure.
// Inside a task, Run gives up the task's permit while it waits.
func Run[T any](ctx context.Context, root func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	s := New(ctx, FailFast, opts...)
	defer s.release()

	d, err := Async(s, root)
	if err != nil {
		return zero, err
	}
	werr := s.Wait()
	res := d.Result()
	switch res.State {
	case Completed:
		v, _ := res.Value.(T)
		return v, nil
	case Failed, Cancelled:
		return zero, res.Err
	}
	return zero, werr
}

// Do is Run for work without a value.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	if fn == nil {
		return errNilFunc
	}
	_, err := Run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// FailureOf extracts the *TaskFailure from err, if any.
func FailureOf(err error) (*TaskFailure, bool) {
	var tf *TaskFailure
	if errors.As(err, &tf) {
		return tf, true
	}
	return nil, false
}
