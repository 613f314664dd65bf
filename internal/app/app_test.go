package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/NetPo4ki/go-taskscope/internal/config"
	"github.com/NetPo4ki/go-taskscope/scope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewWiresServices(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dispatcher.Workers = 3
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	cfg.Demo.TimeScale = 0.01
	var out, errOut bytes.Buffer

	a, err := New(&cfg, Streams{Out: &out, Err: &errOut})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.Dispatcher().Workers(scope.ClassDefault); got != 3 {
		t.Fatalf("default workers = %d, want 3", got)
	}
	if err := a.Runner().Run(context.Background(), "dispatchers"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(out.String(), "elapsed") {
		t.Fatalf("scenario output missing:\n%s", out.String())
	}
	if !strings.Contains(errOut.String(), `"msg":"task active"`) {
		t.Fatalf("logging observer not wired:\n%s", errOut.String())
	}

	mfs, err := a.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "taskscope_task_transitions_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("prometheus observer not wired")
	}
}

func TestNewRejectsBadLogLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log.Level = "loud"
	if _, err := New(&cfg, Streams{}); err == nil {
		t.Fatal("expected error for an invalid log level")
	}
}
