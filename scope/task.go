package scope

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a task.
type State int32

const (
	Created State = iota
	Active
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Completed, Failed or Cancelled.
func (s State) Terminal() bool { return s >= Completed }

type taskKey struct{}

func taskFromContext(ctx context.Context) *Task {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(taskKey{}).(*Task)
	return t
}

var errTaskDone = errors.New("scope: task finished")

const noPermit = -1

// Task is a handle to one scheduled unit of work.
type Task struct {
	id     uint64
	name   string
	class  Class
	d      *Dispatcher
	owner  *Scope
	parent *Task
	opts   Options
	body   func(ctx context.Context) (any, error)

	ctx    context.Context
	cancel context.CancelCauseFunc

	state   atomic.Int32
	permit  atomic.Int32
	started time.Time
	done    chan struct{}

	mu        sync.Mutex
	cleanups  []func()
	cleaned   bool
	children  *Scope
	sealed    bool
	firstFail *TaskFailure
	raised    bool
	eager     bool
	ticket    uint64

	// result slot; written once before done is closed
	value any
	err   error
	seq   uint64
}

func newTask(d *Dispatcher, owner *Scope, parent context.Context, body func(context.Context) (any, error), cfg spawnConfig, opts Options) *Task {
	if !cfg.class.valid() {
		cfg.class = ClassDefault
	}
	opts.Dispatcher = d
	t := &Task{
		id:       d.ids.Add(1),
		name:     cfg.name,
		class:    cfg.class,
		d:        d,
		owner:    owner,
		parent:   taskFromContext(parent),
		opts:     opts,
		body:     body,
		done:     make(chan struct{}),
		cleanups: append([]func(){}, cfg.cleanups...),
		eager:    cfg.eager,
	}
	t.permit.Store(noPermit)
	ctx, cancel := context.WithCancelCause(parent)
	t.ctx = context.WithValue(ctx, taskKey{}, t)
	t.cancel = cancel
	return t
}

func voidBody(fn func(ctx context.Context) error) func(context.Context) (any, error) {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) { return nil, fn(ctx) }
}

// Current returns the task running with ctx, or nil.
func Current(ctx context.Context) *Task { return taskFromContext(ctx) }

func (t *Task) ID() uint64 { return t.id }

func (t *Task) Name() string { return t.name }

func (t *Task) Class() Class { return t.class }

func (t *Task) Dispatcher() *Dispatcher { return t.d }

func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed once the task is terminal.
func (t *Task) Done() <-chan struct{} { return t.done }

// Parent returns the task whose body spawned t, or nil.
func (t *Task) Parent() *Task { return t.parent }

// Children returns the live tasks spawned from t's body, in spawn order.
func (t *Task) Children() []*Task {
	t.mu.Lock()
	c := t.children
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Tasks()
}

// IsCancelled reports the cancellation flag. Once set it stays set, also after
// the task is terminal. A failing task sets its own flag.
func (t *Task) IsCancelled() bool {
	return t.ctx.Err() != nil && !errors.Is(context.Cause(t.ctx), errTaskDone)
}

// Err returns the stored failure or cancellation error of a terminal task.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Result is the content of a task's result slot.
type Result struct {
	State State
	Value any
	Err   error
}

// Result returns the result slot. Before the task is terminal only State is set.
func (t *Task) Result() Result {
	select {
	case <-t.done:
		return Result{State: t.State(), Value: t.value, Err: t.err}
	default:
		return Result{State: t.State()}
	}
}

// Cancel sets the cancellation flag on t and on all current and future
// descendants. The task stops at its next suspension point. Calling Cancel
// again has no further effect.
func (t *Task) Cancel() { t.cancelWith(context.Canceled) }

func (t *Task) cancelWith(cause error) { t.cancel(cause) }

// OnCleanup registers fn to run once when t exits, whatever the exit path.
// Cleanups run in reverse registration order. It returns false if the
// cleanups have already run.
func (t *Task) OnCleanup(fn func()) bool {
	if fn == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cleaned {
		return false
	}
	t.cleanups = append(t.cleanups, fn)
	return true
}

// Join waits until t is terminal. It returns nil for a completed task, the
// *TaskFailure for a failed one, and nil for a cancelled one unless
// ReportCancelled is given. If ctx is cancelled first, Join returns a
// *CancelledError. A task calling Join gives up its permit while waiting.
func (t *Task) Join(ctx context.Context, opts ...JoinOption) error {
	var cfg joinConfig
	for _, fn := range opts {
		fn(&cfg)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := t.checkCycle(ctx); err != nil {
		return err
	}
	if err := t.await(ctx); err != nil {
		return err
	}
	switch t.State() {
	case Failed:
		return t.err
	case Cancelled:
		if cfg.reportCancelled {
			return t.err
		}
	}
	return nil
}

func (t *Task) checkCycle(ctx context.Context) error {
	for c := taskFromContext(ctx); c != nil; c = c.parent {
		if c == t {
			return ErrJoinCycle
		}
	}
	return nil
}

func (t *Task) await(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	default:
	}
	park(ctx, func() {
		select {
		case <-t.done:
		case <-ctx.Done():
		}
	})
	select {
	case <-t.done:
		return nil
	default:
		return cancelled(ctx)
	}
}

// scope returns t's implicit child scope, creating it on first use.
func (t *Task) scope() *Scope {
	t.mu.Lock()
	if c := t.children; c != nil {
		t.mu.Unlock()
		return c
	}
	opts := t.opts
	opts.MaxConcurrency = 0
	c := newScope(t.ctx, FailFast, opts)
	c.owner = t
	c.host = t
	c.sealed = t.sealed
	t.children = c
	t.mu.Unlock()
	c.created()
	return c
}

// seal stops further spawns into t's implicit scope and returns it.
func (t *Task) seal() *Scope {
	t.mu.Lock()
	t.sealed = true
	c := t.children
	t.mu.Unlock()
	if c != nil {
		c.seal()
	}
	return c
}

// suspend gives back the execution permit while wait runs and takes it
// again afterwards. Permits are reacquired without a deadline so that a
// cancelled task can still unwind.
func (t *Task) suspend(wait func()) {
	c := t.permit.Swap(noPermit)
	if c == noPermit {
		wait()
		return
	}
	t.d.release(Class(c))
	wait()
	_ = t.d.acquire(context.Background(), Class(c))
	t.permit.Store(c)
}

func (t *Task) releasePermit() {
	if c := t.permit.Swap(noPermit); c != noPermit {
		t.d.release(Class(c))
	}
}

func (t *Task) limiter() Limiter {
	if t.owner == nil {
		return nil
	}
	return t.owner.lim
}

// takeTicket fixes t's place in the permit queue of its class.
func (t *Task) takeTicket() { t.ticket = t.d.queues[t.class].take() }

func (t *Task) run() {
	defer t.d.retire()
	gate := t.ctx
	if t.eager {
		gate = context.WithoutCancel(t.ctx)
	}
	if lim := t.limiter(); lim != nil {
		if err := lim.Acquire(gate); err != nil {
			t.abort()
			return
		}
		defer lim.Release()
		t.takeTicket()
	}
	if err := t.d.acquireTurn(gate, t.class, t.ticket); err != nil {
		t.abort()
		return
	}
	if !t.eager && t.ctx.Err() != nil {
		t.d.release(t.class)
		t.abort()
		return
	}
	t.permit.Store(int32(t.class))
	defer t.releasePermit()

	t.started = time.Now()
	t.state.Store(int32(Active))
	t.notify(Transition{From: Created, To: Active})

	value, err, panicked := t.call()
	t.settle(value, err, panicked)
}

func (t *Task) call() (value any, err error, panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicked = true
		t.d.log.Error("scope: task panicked", "task", t.id, "name", t.name, "panic", r)
		if !t.opts.PanicAsError {
			t.notify(Transition{From: Active, To: Failed, Panicked: true})
			panic(r)
		}
		err = &PanicError{Value: r, Stack: debug.Stack()}
	}()
	value, err = t.body(t.ctx)
	return value, err, false
}

func (t *Task) notify(tr Transition) {
	if t.opts.Observer == nil {
		return
	}
	tr.TaskID, tr.Name, tr.Class = t.id, t.name, t.class
	t.opts.Observer.TaskTransition(t.ctx, tr)
}

func (t *Task) runCleanups() error {
	t.mu.Lock()
	fns := t.cleanups
	t.cleanups = nil
	t.cleaned = true
	t.mu.Unlock()

	var first error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := safeCall(fns[i]); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}
