package demo

import (
	"context"
	"errors"
	"time"

	"github.com/NetPo4ki/go-taskscope/scope"
)

var errIllegalState = errors.New("illegal state")

// hello prints "Hello " before the child gets a permit.
func (r *Runner) hello(ctx context.Context) error {
	scope.FromContext(ctx).Go(func(context.Context) error {
		r.printf("Task\n")
		return nil
	})
	r.printf("Hello ")
	return nil
}

func (r *Runner) builder(ctx context.Context) error {
	s := scope.FromContext(ctx)
	r.printf("scope: %s, %d live tasks\n", s.Policy(), len(s.Tasks()))
	r.printf("running on %s\n", where(ctx))

	s.Go(func(ctx context.Context) error {
		r.printf("launch1: %s\n", where(ctx))
		r.printf("1\n")
		return nil
	})
	job, err := s.Spawn(func(ctx context.Context) error {
		r.printf("launch2: %s\n", where(ctx))
		if err := r.delay(ctx, 1000); err != nil {
			return err
		}
		r.printf("2\n")
		return nil
	})
	if err != nil {
		return err
	}
	if err := job.Join(ctx); err != nil {
		return err
	}
	s.Go(func(ctx context.Context) error {
		r.printf("launch3: %s\n", where(ctx))
		r.printf("3\n")
		return nil
	})
	r.printf("4\n")
	return nil
}

func (r *Runner) doOne(ctx context.Context) error {
	scope.OnCleanup(ctx, func() { r.printf("doOne() cleanup\n") })
	r.printf("doOne(): %s\n", where(ctx))
	if err := r.delay(ctx, 800); err != nil {
		return err
	}
	r.printf("1\n")
	return nil
}

func (r *Runner) doTwo(ctx context.Context) error {
	scope.OnCleanup(ctx, func() { r.printf("doTwo() cleanup\n") })
	r.printf("doTwo(): %s\n", where(ctx))
	if err := r.delay(ctx, 1000); err != nil {
		return err
	}
	r.printf("2\n")
	return nil
}

func (r *Runner) doThree(ctx context.Context) error {
	r.printf("doThree(): %s\n", where(ctx))
	r.printf("3\n")
	return nil
}

func (r *Runner) sequence(ctx context.Context) error {
	s := scope.FromContext(ctx)
	s.Go(r.doOne, scope.WithName("doOne"))
	s.Go(r.doTwo, scope.WithName("doTwo"))
	s.Go(r.doThree, scope.WithName("doThree"))
	r.printf("4\n")
	return nil
}

func (r *Runner) randomOne(ctx context.Context) (int, error) {
	if err := r.delay(ctx, 1000); err != nil {
		return 0, err
	}
	return r.intn(10), nil
}

func (r *Runner) randomTwo(ctx context.Context) (int, error) {
	if err := r.delay(ctx, 1500); err != nil {
		return 0, err
	}
	return r.intn(10), nil
}

func (r *Runner) random(ctx context.Context) error {
	start := time.Now()
	v1, err := r.randomOne(ctx)
	if err != nil {
		return err
	}
	v2, err := r.randomTwo(ctx)
	if err != nil {
		return err
	}
	r.printf("%d + %d = %d\n", v1, v2, v1+v2)
	r.printf("sequential elapsed: %s\n", time.Since(start).Round(time.Millisecond))

	start = time.Now()
	s := scope.FromContext(ctx)
	one, err := scope.Async(s, r.randomOne, scope.WithName("randomOne"))
	if err != nil {
		return err
	}
	two, err := scope.Async(s, r.randomTwo, scope.WithName("randomTwo"))
	if err != nil {
		return err
	}
	vs, err := scope.AwaitValues(ctx, one, two)
	if err != nil {
		return err
	}
	r.printf("%d + %d = %d\n", vs[0], vs[1], vs[0]+vs[1])
	r.printf("concurrent elapsed: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func (r *Runner) cancel(ctx context.Context) error {
	s := scope.FromContext(ctx)
	var jobs []*scope.Task
	for _, fn := range []func(context.Context) error{r.doOne, r.doTwo, r.doThree} {
		job, err := s.Spawn(fn)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	}
	if err := r.delay(ctx, 500); err != nil {
		return err
	}
	for _, job := range jobs {
		job.Cancel()
	}
	r.printf("4\n")
	return nil
}

func (r *Runner) randomOneWithCleanup(ctx context.Context) (int, error) {
	scope.OnCleanup(ctx, func() { r.printf("randomOne cleanup\n") })
	return r.randomOne(ctx)
}

func (r *Runner) randomTwoFails(ctx context.Context) (int, error) {
	if err := r.delay(ctx, 1500); err != nil {
		return 0, err
	}
	return 0, errIllegalState
}

// failure runs a nested scope whose second value fails; the nested Do
// catches the failure so the scenario itself succeeds.
func (r *Runner) failure(ctx context.Context) error {
	err := scope.Do(ctx, func(ctx context.Context) error {
		s := scope.FromContext(ctx)
		one, err := scope.Async(s, r.randomOneWithCleanup, scope.WithName("randomOne"))
		if err != nil {
			return err
		}
		two, err := scope.Async(s, r.randomTwoFails, scope.WithName("randomTwo"))
		if err != nil {
			return err
		}
		defer r.printf("sum is cancelled\n")
		vs, err := scope.AwaitValues(ctx, one, two)
		if err != nil {
			return err
		}
		r.printf("%d + %d = %d\n", vs[0], vs[1], vs[0]+vs[1])
		return nil
	})
	r.printf("caught: %v\n", err)
	if !errors.Is(err, errIllegalState) {
		return err
	}
	return nil
}

func (r *Runner) dispatchers(ctx context.Context) error {
	start := time.Now()
	s := scope.FromContext(ctx)
	one, err := scope.Async(s, func(ctx context.Context) (int, error) {
		r.printf("%s\n", where(ctx))
		return r.randomOne(ctx)
	})
	if err != nil {
		return err
	}
	two, err := scope.Async(s, func(ctx context.Context) (int, error) {
		r.printf("%s\n", where(ctx))
		return r.randomTwo(ctx)
	}, scope.WithClass(scope.ClassIO))
	if err != nil {
		return err
	}
	vs, err := scope.AwaitValues(ctx, one, two)
	if err != nil {
		return err
	}
	r.printf("%d + %d = %d\n", vs[0], vs[1], vs[0]+vs[1])
	r.printf("elapsed: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
