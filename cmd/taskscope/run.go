package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/NetPo4ki/go-taskscope/internal/app"
	"github.com/NetPo4ki/go-taskscope/internal/config"
	"github.com/NetPo4ki/go-taskscope/scope"
)

var (
	metricsAddr string
	timeScale   float64
	hold        bool
)

var runCmd = &cobra.Command{
	Use:   "run [scenario...]",
	Short: "Run scenarios (all of them when none is named)",
	RunE:  runScenarios,
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().Float64Var(&timeScale, "time-scale", 0, "multiply every scenario delay (overrides config)")
	runCmd.Flags().BoolVar(&hold, "hold", false, "keep serving metrics after the scenarios until interrupted")
}

func runScenarios(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if timeScale > 0 {
		cfg.Demo.TimeScale = timeScale
	}

	a, err := app.New(cfg, app.Streams{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.Logger().Warn("shutdown incomplete", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = scope.Do(ctx, func(ctx context.Context) error {
		var server *scope.Task
		if cfg.Metrics.Addr != "" {
			srv := &http.Server{
				Addr:    cfg.Metrics.Addr,
				Handler: metricsHandler(a),
			}
			var err error
			server, err = scope.FromContext(ctx).Spawn(func(ctx context.Context) error {
				return serveMetrics(ctx, srv)
			}, scope.WithClass(scope.ClassIO), scope.WithName("metrics"))
			if err != nil {
				return err
			}
			a.Logger().Info("serving metrics", "addr", cfg.Metrics.Addr)
		}

		if err := a.Runner().Run(ctx, args...); err != nil {
			return err
		}
		if server == nil {
			return nil
		}
		if !hold {
			server.Cancel()
			return nil
		}
		return server.Join(ctx)
	}, scope.WithDispatcher(a.Dispatcher()))
	// an interrupt is a normal way to stop
	if errors.Is(err, scope.ErrCancelled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func metricsHandler(a *app.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry(), promhttp.HandlerOpts{}))
	return mux
}

// serveMetrics runs srv on an I/O permit until ctx is cancelled.
func serveMetrics(ctx context.Context, srv *http.Server) error {
	stop := context.AfterFunc(ctx, func() { _ = srv.Close() })
	defer stop()
	err := scope.Blocking(ctx, func(context.Context) error {
		return srv.ListenAndServe()
	})
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
