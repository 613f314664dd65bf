package scope

// Policy decides how a scope reacts to a failing member.
type Policy int

const (
	// FailFast cancels every sibling on the first failure and reports it upward.
	FailFast Policy = iota
	// Supervisor records failures but leaves siblings and the parent alone.
	Supervisor
)

func (p Policy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case Supervisor:
		return "supervisor"
	default:
		return "unknown"
	}
}

type Option func(*Options)

type Options struct {
	PanicAsError   bool
	Observer       Observer
	MaxConcurrency int
	Dispatcher     *Dispatcher
}

func defaultOptions() Options { return Options{PanicAsError: true} }

func WithPanicAsError(v bool) Option { return func(o *Options) { o.PanicAsError = v } }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

func WithMaxConcurrency(n int) Option { return func(o *Options) { o.MaxConcurrency = n } }

// WithDispatcher selects the dispatcher that runs the scope's tasks.
func WithDispatcher(d *Dispatcher) Option { return func(o *Options) { o.Dispatcher = d } }

// SpawnOption configures a single task.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	class    Class
	name     string
	cleanups []func()
	eager    bool
}

// WithClass selects the execution class the task runs on.
func WithClass(c Class) SpawnOption { return func(c2 *spawnConfig) { c2.class = c } }

func WithName(name string) SpawnOption { return func(c *spawnConfig) { c.name = name } }

// WithCleanup registers a cleanup before the task is scheduled, so it also
// runs when the task is cancelled before its first step.
func WithCleanup(fn func()) SpawnOption {
	return func(c *spawnConfig) {
		if fn != nil {
			c.cleanups = append(c.cleanups, fn)
		}
	}
}

// StartAtomic makes the task run its body even when it is cancelled before
// its first step. The body sees the cancelled context.
func StartAtomic() SpawnOption { return func(c *spawnConfig) { c.eager = true } }

// JoinOption configures Task.Join.
type JoinOption func(*joinConfig)

type joinConfig struct {
	reportCancelled bool
}

// ReportCancelled makes Join return a *CancelledError for a cancelled task
// instead of nil.
func ReportCancelled() JoinOption { return func(c *joinConfig) { c.reportCancelled = true } }
