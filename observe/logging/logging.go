// Package logging provides a scope.Observer that writes lifecycle events to a
// structured logger.
package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/NetPo4ki/go-taskscope/scope"
)

// Observer logs scope and task events. Transitions to Active and Completed are
// logged at Debug, cancellations at Info and failures at Warn.
type Observer struct {
	log *slog.Logger
}

var _ scope.Observer = (*Observer)(nil)

// New returns an Observer writing to l, or to slog.Default when l is nil.
func New(l *slog.Logger) *Observer {
	if l == nil {
		l = slog.Default()
	}
	return &Observer{log: l}
}

func (o *Observer) ScopeCreated(ctx context.Context) {
	o.log.DebugContext(ctx, "scope created")
}

func (o *Observer) ScopeCancelled(ctx context.Context, cause error) {
	o.log.InfoContext(ctx, "scope cancelled", "cause", cause)
}

func (o *Observer) ScopeJoined(ctx context.Context, wait time.Duration) {
	o.log.DebugContext(ctx, "scope joined", "wait", wait)
}

func (o *Observer) TaskTransition(ctx context.Context, tr scope.Transition) {
	attrs := []any{
		"task", tr.TaskID,
		"class", tr.Class.String(),
		"from", tr.From.String(),
		"to", tr.To.String(),
	}
	if tr.Name != "" {
		attrs = append(attrs, "name", tr.Name)
	}
	if tr.To.Terminal() {
		attrs = append(attrs, "elapsed", tr.Elapsed)
	}
	switch tr.To {
	case scope.Failed:
		attrs = append(attrs, "err", tr.Err, "panicked", tr.Panicked)
		o.log.WarnContext(ctx, "task failed", attrs...)
	case scope.Cancelled:
		o.log.InfoContext(ctx, "task cancelled", attrs...)
	default:
		o.log.DebugContext(ctx, "task "+tr.To.String(), attrs...)
	}
}
