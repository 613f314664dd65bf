package scope

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// Class is an execution class: a separately bounded set of execution permits.
type Class int

const (
	// ClassDefault is sized for CPU-bound work.
	ClassDefault Class = iota
	// ClassIO is sized for work that blocks on I/O.
	ClassIO

	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassDefault:
		return "default"
	case ClassIO:
		return "io"
	default:
		return "unknown"
	}
}

func (c Class) valid() bool { return c >= 0 && c < numClasses }

const defaultIOWorkers = 64

type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	workers [numClasses]int
	logger  *slog.Logger
}

// WithWorkers sets how many tasks of class c may execute at the same time.
// Non-positive values keep the default.
func WithWorkers(c Class, n int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if c.valid() && n > 0 {
			cfg.workers[c] = n
		}
	}
}

// WithDispatcherLogger sets the logger used for dispatcher and scope internals.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// Dispatcher hands out execution permits per class. Every task runs on its own
// goroutine but only executes user code while holding a permit of its class,
// and gives the permit back at suspension points.
type Dispatcher struct {
	permits [numClasses]Limiter
	queues  [numClasses]turnstile
	workers [numClasses]int
	log     *slog.Logger

	ids atomic.Uint64
	seq atomic.Uint64

	mu       sync.Mutex
	closed   bool
	inflight int
	idle     chan struct{}
}

var errNilFunc = errors.New("scope: nil task function")

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	cfg := dispatcherConfig{logger: slog.New(slog.DiscardHandler)}
	cfg.workers[ClassDefault] = max(runtime.GOMAXPROCS(0), 2)
	cfg.workers[ClassIO] = defaultIOWorkers
	for _, fn := range opts {
		fn(&cfg)
	}
	d := &Dispatcher{workers: cfg.workers, log: cfg.logger}
	for c := range numClasses {
		d.permits[c] = newSemaphoreLimiter(cfg.workers[c])
	}
	return d
}

var defaultDispatcher = sync.OnceValue(func() *Dispatcher { return NewDispatcher() })

// Default returns the shared dispatcher used by scopes that were given none.
func Default() *Dispatcher { return defaultDispatcher() }

// Workers reports the permit count of class c.
func (d *Dispatcher) Workers(c Class) int {
	if !c.valid() {
		return 0
	}
	return d.workers[c]
}

// Submit schedules fn as a root task that belongs to no scope. The returned
// task is Created; it becomes Active when a permit of class is free.
func (d *Dispatcher) Submit(ctx context.Context, fn func(ctx context.Context) error, class Class) (*Task, error) {
	if fn == nil {
		return nil, errNilFunc
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.admit(); err != nil {
		return nil, err
	}
	t := newTask(d, nil, ctx, voidBody(fn), spawnConfig{class: class}, defaultOptions())
	t.takeTicket()
	go t.run()
	return t, nil
}

// Shutdown rejects further submissions and waits for in-flight tasks or ctx.
// It is safe to call more than once.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	first := !d.closed
	d.closed = true
	n := d.inflight
	idle := d.idle
	d.mu.Unlock()

	if first {
		d.log.Info("dispatcher: shutdown", "inflight", n)
	}
	if n == 0 {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed reports whether Shutdown has been called.
func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) admit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Debug("dispatcher: submission rejected")
		return ErrDispatcherClosed
	}
	d.inflight++
	if d.inflight == 1 {
		d.idle = make(chan struct{})
	}
	return nil
}

func (d *Dispatcher) retire() {
	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 {
		close(d.idle)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) acquire(ctx context.Context, c Class) error {
	return d.permits[c].Acquire(ctx)
}

func (d *Dispatcher) release(c Class) {
	d.permits[c].Release()
}

// acquireTurn waits for ticket n to reach the head of class c's queue and
// then for a permit, so tasks start in the order they were spawned.
func (d *Dispatcher) acquireTurn(ctx context.Context, c Class, n uint64) error {
	q := &d.queues[c]
	if err := q.wait(ctx, n); err != nil {
		return err
	}
	defer q.leave(n)
	return d.acquire(ctx, c)
}

// turnstile serves tickets in the order they were taken. A ticket whose
// holder gives up before its turn is skipped.
type turnstile struct {
	mu      sync.Mutex
	next    uint64
	serving uint64
	gone    map[uint64]struct{}
	moved   chan struct{}
}

func (q *turnstile) take() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.next
	q.next++
	return n
}

func (q *turnstile) wait(ctx context.Context, n uint64) error {
	for {
		q.mu.Lock()
		if q.serving == n {
			q.mu.Unlock()
			return nil
		}
		if q.moved == nil {
			q.moved = make(chan struct{})
		}
		moved := q.moved
		q.mu.Unlock()

		select {
		case <-moved:
		case <-ctx.Done():
			q.leave(n)
			return ctx.Err()
		}
	}
}

// leave gives up ticket n, whether or not its turn has come.
func (q *turnstile) leave(n uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n != q.serving {
		if q.gone == nil {
			q.gone = make(map[uint64]struct{})
		}
		q.gone[n] = struct{}{}
		return
	}
	q.serving++
	for {
		if _, ok := q.gone[q.serving]; !ok {
			break
		}
		delete(q.gone, q.serving)
		q.serving++
	}
	if q.moved != nil {
		close(q.moved)
		q.moved = nil
	}
}
