// Package prom exports scope lifecycle events as Prometheus metrics.
package prom

import (
	"context"
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/NetPo4ki/go-taskscope/scope"
)

// Options controls collector configuration.
type Options struct {
	DurationBuckets []float64
}

// Metrics is a scope.Observer backed by Prometheus collectors.
type Metrics struct {
	activeTasks   *prom.GaugeVec
	transitions   *prom.CounterVec
	taskDuration  *prom.HistogramVec
	tasksPanicked *prom.CounterVec

	scopesCreated   prom.Counter
	scopesCancelled prom.Counter
	joinWait        prom.Histogram
}

var _ scope.Observer = (*Metrics)(nil)

// New creates and registers the collectors under namespace. Collectors that
// are already registered with reg are reused.
func New(namespace string, reg prom.Registerer, opts Options) (*Metrics, error) {
	if namespace == "" {
		namespace = "taskscope"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	active := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_active",
		Help:      "Tasks currently holding an execution permit or suspended.",
	}, []string{"class"})
	transitions := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_transitions_total",
		Help:      "Task state transitions by target state.",
	}, []string{"class", "state"})
	duration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Time from a task's first step to its terminal state.",
		Buckets:   buckets,
	}, []string{"class", "state"})
	panicked := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panics_total",
		Help:      "Task bodies that panicked.",
	}, []string{"class"})
	created := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "scopes_created_total",
		Help:      "Scopes created, including implicit task scopes.",
	})
	cancelled := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "scopes_cancelled_total",
		Help:      "Scopes cancelled explicitly or by a failure.",
	})
	joinWait := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "scope_wait_seconds",
		Help:      "Time spent in Scope.Wait.",
		Buckets:   buckets,
	})

	var err error
	if active, err = registerCollector(reg, active); err != nil {
		return nil, err
	}
	if transitions, err = registerCollector(reg, transitions); err != nil {
		return nil, err
	}
	if duration, err = registerCollector(reg, duration); err != nil {
		return nil, err
	}
	if panicked, err = registerCollector(reg, panicked); err != nil {
		return nil, err
	}
	if created, err = registerCollector(reg, created); err != nil {
		return nil, err
	}
	if cancelled, err = registerCollector(reg, cancelled); err != nil {
		return nil, err
	}
	if joinWait, err = registerCollector(reg, joinWait); err != nil {
		return nil, err
	}

	return &Metrics{
		activeTasks:     active,
		transitions:     transitions,
		taskDuration:    duration,
		tasksPanicked:   panicked,
		scopesCreated:   created,
		scopesCancelled: cancelled,
		joinWait:        joinWait,
	}, nil
}

// ScopeCreated records scope creation.
func (m *Metrics) ScopeCreated(_ context.Context) {
	m.scopesCreated.Inc()
}

// ScopeCancelled records scope cancellation.
func (m *Metrics) ScopeCancelled(_ context.Context, _ error) {
	m.scopesCancelled.Inc()
}

// ScopeJoined records the time spent waiting for a scope.
func (m *Metrics) ScopeJoined(_ context.Context, wait time.Duration) {
	m.joinWait.Observe(wait.Seconds())
}

// TaskTransition tracks active tasks and terminal outcomes.
func (m *Metrics) TaskTransition(_ context.Context, tr scope.Transition) {
	class := tr.Class.String()
	m.transitions.WithLabelValues(class, tr.To.String()).Inc()
	if tr.To == scope.Active {
		m.activeTasks.WithLabelValues(class).Inc()
		return
	}
	if !tr.To.Terminal() {
		return
	}
	if tr.Panicked {
		m.tasksPanicked.WithLabelValues(class).Inc()
	}
	// tasks cancelled before their first step were never active
	if tr.From == scope.Active {
		m.activeTasks.WithLabelValues(class).Dec()
		m.taskDuration.WithLabelValues(class, tr.To.String()).Observe(tr.Elapsed.Seconds())
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
