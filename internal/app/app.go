// Package app wires the taskscope command's services using go.uber.org/dig.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"github.com/NetPo4ki/go-taskscope/internal/config"
	"github.com/NetPo4ki/go-taskscope/internal/demo"
	"github.com/NetPo4ki/go-taskscope/observe/logging"
	obsprom "github.com/NetPo4ki/go-taskscope/observe/prom"
	"github.com/NetPo4ki/go-taskscope/scope"
)

// App holds the resolved service singletons.
type App struct {
	cfg        *config.Config
	log        *slog.Logger
	registry   *prometheus.Registry
	dispatcher *scope.Dispatcher
	runner     *demo.Runner
}

func (a *App) Config() *config.Config         { return a.cfg }
func (a *App) Logger() *slog.Logger           { return a.log }
func (a *App) Registry() *prometheus.Registry { return a.registry }
func (a *App) Dispatcher() *scope.Dispatcher  { return a.dispatcher }
func (a *App) Runner() *demo.Runner           { return a.runner }

// Streams are the writers scenarios and logs go to.
type Streams struct {
	Out io.Writer
	Err io.Writer
}

// New builds and wires all services from cfg.
func New(cfg *config.Config, streams Streams) (*App, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() Streams { return streams }); err != nil {
		return nil, err
	}
	if err := d.Provide(newLogger); err != nil {
		return nil, err
	}
	if err := d.Provide(prometheus.NewRegistry); err != nil {
		return nil, err
	}
	if err := d.Provide(newMetrics); err != nil {
		return nil, err
	}
	if err := d.Provide(logging.New); err != nil {
		return nil, err
	}
	if err := d.Provide(newObserver); err != nil {
		return nil, err
	}
	if err := d.Provide(newDispatcher); err != nil {
		return nil, err
	}
	if err := d.Provide(newRunner); err != nil {
		return nil, err
	}

	var result *App
	err := d.Invoke(func(
		log *slog.Logger,
		registry *prometheus.Registry,
		dispatcher *scope.Dispatcher,
		runner *demo.Runner,
	) {
		result = &App{
			cfg:        cfg,
			log:        log,
			registry:   registry,
			dispatcher: dispatcher,
			runner:     runner,
		}
	})
	return result, err
}

// Close stops the runner and waits for the dispatcher, bounded by the
// configured shutdown timeout.
func (a *App) Close(ctx context.Context) error {
	if a.cfg.Dispatcher.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Dispatcher.ShutdownTimeout)
		defer cancel()
	}
	return errors.Join(a.runner.Close(ctx), a.dispatcher.Shutdown(ctx))
}

func newLogger(cfg *config.Config, streams Streams) (*slog.Logger, error) {
	lvl, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	w := streams.Err
	if w == nil {
		w = io.Discard
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newMetrics(cfg *config.Config, reg *prometheus.Registry) (*obsprom.Metrics, error) {
	return obsprom.New(cfg.Metrics.Namespace, reg, obsprom.Options{})
}

func newObserver(m *obsprom.Metrics, l *logging.Observer) scope.Observer {
	return scope.Observers(m, l)
}

func newDispatcher(cfg *config.Config, log *slog.Logger) *scope.Dispatcher {
	return scope.NewDispatcher(
		scope.WithWorkers(scope.ClassDefault, cfg.Dispatcher.Workers),
		scope.WithWorkers(scope.ClassIO, cfg.Dispatcher.IOWorkers),
		scope.WithDispatcherLogger(log),
	)
}

func newRunner(cfg *config.Config, d *scope.Dispatcher, obs scope.Observer, streams Streams, log *slog.Logger) *demo.Runner {
	out := streams.Out
	if out == nil {
		out = io.Discard
	}
	return demo.NewRunner(d, obs, out, cfg.Demo, log.With("component", "demo"))
}
