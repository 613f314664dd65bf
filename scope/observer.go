package scope

import (
	"context"
	"time"
)

// Observer receives scope and task lifecycle events. Calls are made outside
// of any scope lock and exactly once per event.
type Observer interface {
	ScopeCreated(ctx context.Context)
	ScopeCancelled(ctx context.Context, cause error)
	ScopeJoined(ctx context.Context, wait time.Duration)
	TaskTransition(ctx context.Context, tr Transition)
}

// Transition describes one task state change.
type Transition struct {
	TaskID   uint64
	Name     string
	Class    Class
	From, To State

	// Elapsed is the time spent Active; zero unless To is terminal.
	Elapsed  time.Duration
	Err      error
	Panicked bool
}

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) ScopeCreated(ctx context.Context) {
	for _, o := range m {
		o.ScopeCreated(ctx)
	}
}

func (m multiObserver) ScopeCancelled(ctx context.Context, cause error) {
	for _, o := range m {
		o.ScopeCancelled(ctx, cause)
	}
}

func (m multiObserver) ScopeJoined(ctx context.Context, wait time.Duration) {
	for _, o := range m {
		o.ScopeJoined(ctx, wait)
	}
}

func (m multiObserver) TaskTransition(ctx context.Context, tr Transition) {
	for _, o := range m {
		o.TaskTransition(ctx, tr)
	}
}
