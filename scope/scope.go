package scope

import (
	"context"
	"sync"
	"time"
)

type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	policy Policy
	opts   Options
	obs    Observer
	lim    Limiter
	d      *Dispatcher

	owner  *Task  // implicit scope of this task
	host   *Task  // task whose body waits on this scope
	parent *Scope // set for Child scopes

	mu         sync.Mutex
	tasks      []*Task
	pending    int
	idle       chan struct{}
	firstErr   *TaskFailure
	suppressed []error
	canceled   bool
	sealed     bool
}

// New creates a root scope bound to parent. When parent belongs to a running
// task the scope inherits that task's dispatcher, observer and panic policy,
// and Wait releases the task's permit while it blocks.
func New(parent context.Context, policy Policy, optFns ...Option) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	opts := defaultOptions()
	host := taskFromContext(parent)
	if host != nil {
		opts.Dispatcher = host.d
		opts.Observer = host.opts.Observer
		opts.PanicAsError = host.opts.PanicAsError
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := newScope(parent, policy, opts)
	s.host = host
	s.created()
	return s
}

func newScope(parent context.Context, policy Policy, opts Options) *Scope {
	if opts.Dispatcher == nil {
		opts.Dispatcher = Default()
	}
	ctx, cancel := context.WithCancelCause(parent)
	s := &Scope{
		ctx:    ctx,
		cancel: cancel,
		policy: policy,
		opts:   opts,
		obs:    opts.Observer,
		d:      opts.Dispatcher,
		lim:    newSemaphoreLimiter(opts.MaxConcurrency),
	}
	return s
}

func (s *Scope) created() {
	if s.obs != nil {
		s.obs.ScopeCreated(s.ctx)
	}
}

// FromContext returns the implicit scope of the task running with ctx:
// tasks spawned into it are children of that task. It returns nil when ctx
// does not belong to a task.
func FromContext(ctx context.Context) *Scope {
	t := taskFromContext(ctx)
	if t == nil {
		return nil
	}
	return t.scope()
}

func (s *Scope) Context() context.Context { return s.ctx }

func (s *Scope) Policy() Policy { return s.policy }

func (s *Scope) Dispatcher() *Dispatcher { return s.d }

// Spawn starts fn as a child task of the scope. It fails with
// ErrDispatcherClosed or ErrScopeClosed without creating a task.
func (s *Scope) Spawn(fn func(ctx context.Context) error, opts ...SpawnOption) (*Task, error) {
	return s.spawn(voidBody(fn), opts)
}

// Go is the fire-and-forget form of Spawn. The scope still tracks the task;
// a rejected spawn is recorded as a failure of the scope.
func (s *Scope) Go(fn func(ctx context.Context) error, opts ...SpawnOption) {
	if fn == nil {
		return
	}
	if _, err := s.Spawn(fn, opts...); err != nil {
		s.d.log.Warn("scope: spawn rejected", "err", err)
		f := &TaskFailure{Cause: err}
		if s.record(nil, f) {
			s.escalate(f)
		}
	}
}

func (s *Scope) spawn(body func(context.Context) (any, error), opts []SpawnOption) (*Task, error) {
	if body == nil {
		return nil, errNilFunc
	}
	var cfg spawnConfig
	for _, fn := range opts {
		fn(&cfg)
	}
	for p := s.parent; p != nil; p = p.parent {
		if p.isSealed() {
			return nil, ErrScopeClosed
		}
	}

	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return nil, ErrScopeClosed
	}
	if err := s.d.admit(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	t := newTask(s.d, s, s.ctx, body, cfg, s.opts)
	if s.lim == nil {
		t.takeTicket()
	}
	s.tasks = append(s.tasks, t)
	s.incLocked()
	s.mu.Unlock()

	go t.run()
	return t, nil
}

// Cancel cancels every task of the scope, including child scopes. The first
// call reports to the observer; later calls have no further effect.
func (s *Scope) Cancel(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	s.mu.Lock()
	wasCanceled := s.canceled
	s.canceled = true
	s.mu.Unlock()

	s.cancel(cause)
	if !wasCanceled && s.obs != nil {
		s.obs.ScopeCancelled(s.ctx, context.Cause(s.ctx))
	}
}

// Wait blocks until every task spawned under the scope, transitively, is
// terminal. It returns the first failure, or a *CancelledError if the scope
// was cancelled, or nil.
func (s *Scope) Wait() error {
	var start time.Time
	if s.obs != nil {
		start = time.Now()
	}
	if s.host != nil {
		s.host.suspend(s.waitIdle)
	} else {
		s.waitIdle()
	}
	if s.obs != nil {
		s.obs.ScopeJoined(s.ctx, time.Since(start))
	}
	return s.Err()
}

// Err reports the scope outcome so far without waiting.
func (s *Scope) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstErr != nil {
		return s.firstErr
	}
	if s.ctx.Err() != nil {
		return cancelled(s.ctx)
	}
	return nil
}

// Tasks returns the live tasks of the scope in spawn order.
func (s *Scope) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Suppressed returns the failures recorded after the first one.
func (s *Scope) Suppressed() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.suppressed))
	copy(out, s.suppressed)
	return out
}

// Child creates a nested scope. The parent's Wait covers the child's tasks;
// under FailFast the child's first failure is also a failure of the parent.
func (s *Scope) Child(policy Policy, optFns ...Option) *Scope {
	childOpts := s.opts
	for _, fn := range optFns {
		fn(&childOpts)
	}
	cs := newScope(s.ctx, policy, childOpts)
	cs.parent = s
	cs.host = s.host
	cs.created()
	return cs
}

func (s *Scope) incLocked() {
	s.pending++
	if s.pending == 1 {
		s.idle = make(chan struct{})
		if s.parent != nil {
			s.parent.inc()
		}
	}
}

func (s *Scope) inc() {
	s.mu.Lock()
	s.incLocked()
	s.mu.Unlock()
}

func (s *Scope) dec() {
	s.mu.Lock()
	s.decLocked()
	s.mu.Unlock()
}

func (s *Scope) decLocked() {
	s.pending--
	if s.pending == 0 {
		close(s.idle)
		if s.parent != nil {
			s.parent.dec()
		}
	}
}

func (s *Scope) deregister(t *Task) {
	s.mu.Lock()
	for i, c := range s.tasks {
		if c == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	s.decLocked()
	s.mu.Unlock()
}

func (s *Scope) waitIdle() {
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return
	}
	idle := s.idle
	s.mu.Unlock()
	<-idle
}

func (s *Scope) seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

func (s *Scope) isSealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// release seals the scope and frees its context once nothing runs under it.
func (s *Scope) release() {
	s.seal()
	s.cancel(errTaskDone)
}
