package demo

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/NetPo4ki/go-taskscope/internal/config"
	"github.com/NetPo4ki/go-taskscope/scope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRunner(t *testing.T, scale float64) (*Runner, *bytes.Buffer) {
	t.Helper()
	pool := scope.NewDispatcher()
	var buf bytes.Buffer
	r := NewRunner(pool, nil, &buf, config.DemoConfig{Seed: 7, TimeScale: scale}, slog.New(slog.DiscardHandler))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Close(ctx); err != nil {
			t.Errorf("runner close: %v", err)
		}
		if err := pool.Shutdown(ctx); err != nil {
			t.Errorf("pool shutdown: %v", err)
		}
	})
	return r, &buf
}

// assertOrder checks that every line in want appears in out, in that order.
// A trailing newline stays in the remaining output so that "\n2\n" and
// "\n4\n" both match consecutive lines.
func assertOrder(t *testing.T, out string, want ...string) {
	t.Helper()
	rest := out
	for _, w := range want {
		i := strings.Index(rest, w)
		if i < 0 {
			t.Fatalf("%q missing or out of order in output:\n%s", w, out)
		}
		rest = rest[i+len(strings.TrimSuffix(w, "\n")):]
	}
}

func TestAssertOrderConsecutiveLines(t *testing.T) {
	t.Parallel()
	assertOrder(t, "launch2: x\n2\n4\nlaunch3: x\n3\n", "launch2:", "\n2\n", "\n4\n", "launch3:", "\n3\n")
}

func TestHello(t *testing.T) {
	t.Parallel()
	r, buf := newRunner(t, 0.01)
	if err := r.Run(context.Background(), "hello"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertOrder(t, buf.String(), "Hello Task\n")
}

func TestBuilderJoinOrder(t *testing.T) {
	t.Parallel()
	r, buf := newRunner(t, 0.01)
	if err := r.Run(context.Background(), "builder"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertOrder(t, buf.String(), "scope: fail-fast", "launch1:", "\n1\n", "launch2:", "\n2\n", "\n4\n", "launch3:", "\n3\n")
}

func TestSequenceParentPrintsFirst(t *testing.T) {
	t.Parallel()
	r, buf := newRunner(t, 0.01)
	if err := r.Run(context.Background(), "sequence"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	assertOrder(t, out, "\n4\n", "doOne():", "doTwo():", "doThree():")
	assertOrder(t, out, "\n1\n", "doOne() cleanup\n")
	assertOrder(t, out, "\n2\n", "doTwo() cleanup\n")
}

func TestCancelRunsCleanups(t *testing.T) {
	t.Parallel()
	r, buf := newRunner(t, 0.05)
	if err := r.Run(context.Background(), "cancel"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	assertOrder(t, out, "\n3\n", "\n4\n")
	if !strings.Contains(out, "doOne() cleanup") || !strings.Contains(out, "doTwo() cleanup") {
		t.Fatalf("cleanups missing:\n%s", out)
	}
	if strings.Contains(out, "\n2\n") {
		t.Fatalf("cancelled doTwo reached its end:\n%s", out)
	}
}

func TestFailureIsCaught(t *testing.T) {
	t.Parallel()
	r, buf := newRunner(t, 0.01)
	if err := r.Run(context.Background(), "failure"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertOrder(t, buf.String(), "randomOne cleanup\n", "sum is cancelled\n", "caught: ", "illegal state")
}

func TestRandomAndDispatchers(t *testing.T) {
	t.Parallel()
	r, buf := newRunner(t, 0.01)
	if err := r.Run(context.Background(), "random", "dispatchers"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	assertOrder(t, out, "1. random", "sequential elapsed", "concurrent elapsed", "2. dispatchers", "elapsed")
	if !strings.Contains(out, "on default") || !strings.Contains(out, "on io") {
		t.Fatalf("expected both execution classes:\n%s", out)
	}
}

func TestRunAll(t *testing.T) {
	t.Parallel()
	r, buf := newRunner(t, 0.01)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, sc := range Scenarios() {
		if !strings.Contains(buf.String(), sc.Name+": "+sc.Title) {
			t.Fatalf("scenario %d (%s) header missing", i+1, sc.Name)
		}
	}
}

func TestUnknownScenario(t *testing.T) {
	t.Parallel()
	r, buf := newRunner(t, 0.01)
	err := r.Run(context.Background(), "hello", "nope")
	if !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("Run = %v, want ErrUnknownScenario", err)
	}
	if buf.Len() != 0 {
		t.Fatal("nothing should run when a name is unknown")
	}
}
