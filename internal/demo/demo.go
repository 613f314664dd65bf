// Package demo holds runnable scenarios that exercise the scope package the
// way the classic coroutine walkthrough does: launching, joining, async
// values, cancellation, failure and execution classes.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/NetPo4ki/go-taskscope/internal/config"
	"github.com/NetPo4ki/go-taskscope/scope"
)

// ErrUnknownScenario is returned by Run for a name that is not registered.
var ErrUnknownScenario = errors.New("demo: unknown scenario")

// Scenario is one named walkthrough section.
type Scenario struct {
	Name  string
	Title string
	run   func(r *Runner, ctx context.Context) error
}

var scenarios = []Scenario{
	{"hello", "the simplest task", (*Runner).hello},
	{"builder", "scope builder, launch and join", (*Runner).builder},
	{"sequence", "tasks from plain functions", (*Runner).sequence},
	{"random", "sequential calls versus async values", (*Runner).random},
	{"cancel", "explicit cancellation with cleanups", (*Runner).cancel},
	{"failure", "a failing sibling cancels the family", (*Runner).failure},
	{"dispatchers", "default and io execution classes", (*Runner).dispatchers},
}

// Scenarios lists the registered scenarios in run order.
func Scenarios() []Scenario {
	return append([]Scenario(nil), scenarios...)
}

// Runner executes scenarios. Ordered scenarios run on a private dispatcher
// with a single permit per class so that output order only depends on
// suspension points; the dispatchers scenario runs on the shared pool.
type Runner struct {
	out   *syncWriter
	pool  *scope.Dispatcher
	main  *scope.Dispatcher
	obs   scope.Observer
	log   *slog.Logger
	scale float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRunner builds a runner writing to out.
func NewRunner(pool *scope.Dispatcher, obs scope.Observer, out io.Writer, cfg config.DemoConfig, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = 1
	}
	return &Runner{
		out:  &syncWriter{w: out},
		pool: pool,
		main: scope.NewDispatcher(
			scope.WithWorkers(scope.ClassDefault, 1),
			scope.WithWorkers(scope.ClassIO, 1),
			scope.WithDispatcherLogger(log),
		),
		obs:   obs,
		log:   log,
		scale: cfg.TimeScale,
		rng:   rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15)),
	}
}

// Run executes the named scenarios in order, or all of them when names is
// empty. Each scenario is a separate root scope.
func (r *Runner) Run(ctx context.Context, names ...string) error {
	selected, err := lookup(names)
	if err != nil {
		return err
	}
	for i, sc := range selected {
		r.printf("%d. %s: %s ==============\n", i+1, sc.Name, sc.Title)
		start := time.Now()
		d := r.main
		if sc.Name == "dispatchers" && r.pool != nil {
			d = r.pool
		}
		err := scope.Do(ctx, func(ctx context.Context) error {
			return sc.run(r, ctx)
		}, scope.WithDispatcher(d), scope.WithObserver(r.obs))
		r.log.Info("scenario finished", "scenario", sc.Name, "elapsed", time.Since(start), "err", err)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}
	return nil
}

// Close shuts down the runner's private dispatcher.
func (r *Runner) Close(ctx context.Context) error {
	return r.main.Shutdown(ctx)
}

func lookup(names []string) ([]Scenario, error) {
	if len(names) == 0 {
		return Scenarios(), nil
	}
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		found := false
		for _, sc := range scenarios {
			if sc.Name == name {
				out = append(out, sc)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
		}
	}
	return out, nil
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// delay is a scaled scope.Sleep.
func (r *Runner) delay(ctx context.Context, ms int) error {
	return scope.Sleep(ctx, r.dur(ms))
}

func (r *Runner) dur(ms int) time.Duration {
	return time.Duration(float64(ms) * r.scale * float64(time.Millisecond))
}

func (r *Runner) intn(n int) int {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.IntN(n)
}

// where describes the task running with ctx, in place of a thread name.
func where(ctx context.Context) string {
	t := scope.Current(ctx)
	if t == nil {
		return "outside any task"
	}
	return fmt.Sprintf("task #%d on %s (%d permits)", t.ID(), t.Class(), t.Dispatcher().Workers(t.Class()))
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
