// Package scope provides structured-concurrency primitives for Go.
//
// Tasks are spawned into a Scope and never outlive it: Wait (and Run) return
// only once every task spawned under the scope, at any depth, is terminal.
// A task's body may spawn children through FromContext; the task itself does
// not finish before they do.
//
// Execution is cooperative over a Dispatcher. A task executes user code only
// while it holds a permit of its execution class (ClassDefault or ClassIO) and
// gives the permit back at suspension points: Sleep, Yield, Blocking, Join,
// AwaitAll, Wait and Run. Suspension points are also where cancellation is
// observed.
//
// Cancelling a task cancels its subtree and nothing else. A failing task
// cancels its subtree, and in a FailFast scope also its siblings, and the
// failure moves up to the parent task until it reaches the root. The first
// failure recorded by a scope wins; later ones stay available through
// Scope.Suppressed and TaskFailure.Suppressed.
package scope
