// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup
// semantics on top of a FailFast scope. Functions started through a Group are
// ordinary scope tasks: they hold execution permits of the scope's dispatcher
// and can spawn children of their own.
package errgroup

import (
	"context"
	"sync"

	"github.com/NetPo4ki/go-taskscope/scope"
)

// Group is an errgroup-like wrapper over a FailFast scope.Scope.
type Group struct {
	s   *scope.Scope
	ctx context.Context

	errOnce sync.Once
	err     error
}

// WithContext creates a Group bound to ctx. The returned context is canceled
// when any function passed to Go returns a non-nil error or when Wait returns.
func WithContext(ctx context.Context, opts ...scope.Option) (*Group, context.Context) {
	s := scope.New(ctx, scope.FailFast, opts...)
	g := &Group{s: s, ctx: s.Context()}
	return g, g.ctx
}

// Go starts f as a task of the group. The first non-nil error cancels the
// group and is the one returned by Wait. Like x/sync/errgroup, f runs even
// when the group is already cancelled.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	g.s.Go(func(context.Context) error {
		err := f()
		if err != nil {
			g.errOnce.Do(func() {
				g.err = err
				g.s.Cancel(err)
			})
		}
		return err
	}, scope.StartAtomic())
}

// Wait blocks until all functions have returned and returns the first non-nil
// error returned by one of them.
func (g *Group) Wait() error {
	serr := g.s.Wait()
	g.s.Cancel(context.Canceled)
	if g.err != nil {
		return g.err
	}
	// rejected spawns never ran a function
	if tf, ok := scope.FailureOf(serr); ok {
		return tf.Cause
	}
	return nil
}

// Scope exposes the scope backing the group.
func (g *Group) Scope() *scope.Scope { return g.s }
