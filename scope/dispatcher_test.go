package scope

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !d.Closed() {
		t.Fatal("Closed should report true after Shutdown")
	}
	if _, err := d.Submit(context.Background(), func(context.Context) error { return nil }, ClassDefault); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Submit = %v, want ErrDispatcherClosed", err)
	}
	s := New(context.Background(), FailFast, WithDispatcher(d))
	if _, err := s.Spawn(func(context.Context) error { return nil }); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Spawn = %v, want ErrDispatcherClosed", err)
	}
	if len(s.Tasks()) != 0 {
		t.Fatal("rejected spawn must not create a task")
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestSubmitRootTask(t *testing.T) {
	t.Parallel()
	d := newDispatcher(t)
	boom := errors.New("boom")
	ok, err := d.Submit(context.Background(), func(context.Context) error { return nil }, ClassDefault)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	bad, err := d.Submit(context.Background(), func(context.Context) error { return boom }, Class(42))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := ok.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := bad.Join(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("join = %v, want boom", err)
	}
	if ok.Parent() != nil || ok.State() != Completed {
		t.Fatalf("root task parent=%v state=%v", ok.Parent(), ok.State())
	}
	if bad.Class() != ClassDefault {
		t.Fatalf("unknown class should fall back to default, got %v", bad.Class())
	}
}

func TestDispatcherPermitBound(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(WithWorkers(ClassDefault, 2))
	defer func() { _ = d.Shutdown(context.Background()) }()
	if d.Workers(ClassDefault) != 2 || d.Workers(ClassIO) != defaultIOWorkers {
		t.Fatalf("workers default=%d io=%d", d.Workers(ClassDefault), d.Workers(ClassIO))
	}

	var cur, maxSeen atomic.Int64
	s := New(context.Background(), Supervisor, WithDispatcher(d))
	for i := 0; i < 10; i++ {
		s.Go(func(context.Context) error {
			c := cur.Add(1)
			for {
				m := maxSeen.Load()
				if c <= m || maxSeen.CompareAndSwap(m, c) {
					break
				}
			}
			// no suspension point: the permit is held throughout
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
			return nil
		})
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := maxSeen.Load(); got > 2 {
		t.Fatalf("observed %d concurrently executing tasks with 2 permits", got)
	}
}

func TestIOClassIsSeparate(t *testing.T) {
	t.Parallel()
	d := newDispatcher(t, WithWorkers(ClassDefault, 1))
	release := make(chan struct{})
	holding := make(chan struct{})
	hog, err := d.Submit(context.Background(), func(context.Context) error {
		close(holding)
		<-release
		return nil
	}, ClassDefault)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-holding
	io, err := d.Submit(context.Background(), func(context.Context) error { return nil }, ClassIO)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-io.Done():
	case <-time.After(time.Second):
		t.Fatal("IO task waited for the default class")
	}
	close(release)
	if err := hog.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func TestCancelledBeforeFirstStep(t *testing.T) {
	t.Parallel()
	d := newDispatcher(t, WithWorkers(ClassDefault, 1))
	s := New(context.Background(), FailFast, WithDispatcher(d))
	release := make(chan struct{})
	holding := make(chan struct{})
	if _, err := s.Spawn(func(context.Context) error {
		close(holding)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	<-holding

	var ran atomic.Bool
	var cleaned atomic.Int32
	queued, err := s.Spawn(func(context.Context) error {
		ran.Store(true)
		return nil
	}, WithCleanup(func() { cleaned.Add(1) }), WithName("queued"))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if queued.State() != Created {
		t.Fatalf("queued state = %v, want created", queued.State())
	}
	queued.Cancel()
	if err := queued.Join(context.Background(), ReportCancelled()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("join = %v, want ErrCancelled", err)
	}
	close(release)
	if err := s.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if ran.Load() {
		t.Fatal("task cancelled before its first step ran its body")
	}
	if cleaned.Load() != 1 {
		t.Fatalf("spawn-time cleanup ran %d times, want 1", cleaned.Load())
	}
	if !queued.IsCancelled() {
		t.Fatal("IsCancelled should report true")
	}
}

func TestShutdownWaitsForInflight(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	release := make(chan struct{})
	task, err := d.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	}, ClassIO)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown = %v, want deadline exceeded", err)
	}
	close(release)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !task.State().Terminal() {
		t.Fatalf("Shutdown returned while task is %v", task.State())
	}
}

func TestDefaultDispatcherShared(t *testing.T) {
	t.Parallel()
	if Default() != Default() {
		t.Fatal("Default should return the same dispatcher")
	}
	s := New(context.Background(), FailFast)
	if s.Dispatcher() != Default() {
		t.Fatal("scope without a dispatcher should use Default")
	}
}

func TestIsCancelledStaysSet(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Supervisor, WithDispatcher(newDispatcher(t)))
	boom := errors.New("boom")
	running := make(chan struct{})
	flagged, err := s.Spawn(func(ctx context.Context) error {
		close(running)
		<-ctx.Done()
		return boom
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	failing, err := s.Spawn(func(context.Context) error { return boom })
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	ok, err := s.Spawn(func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	<-running
	if flagged.IsCancelled() {
		t.Fatal("IsCancelled before Cancel")
	}
	flagged.Cancel()
	if !flagged.IsCancelled() {
		t.Fatal("IsCancelled after Cancel should report true")
	}
	<-flagged.Done()
	if flagged.State() != Failed || !flagged.IsCancelled() {
		t.Fatalf("state=%v cancelled=%v, want a failed task that stays flagged", flagged.State(), flagged.IsCancelled())
	}
	<-failing.Done()
	if !failing.IsCancelled() {
		t.Fatal("a failing task cancels itself")
	}
	<-ok.Done()
	if ok.IsCancelled() {
		t.Fatal("completed task should not be flagged")
	}
	_ = s.Wait()
}

func TestPermitsFollowSpawnOrder(t *testing.T) {
	t.Parallel()
	d := newDispatcher(t, WithWorkers(ClassDefault, 1))
	var mu sync.Mutex
	var order []int
	var skipped *Task
	err := Do(context.Background(), func(ctx context.Context) error {
		s := FromContext(ctx)
		for i := 0; i < 8; i++ {
			task, err := s.Spawn(func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			if err != nil {
				return err
			}
			if i == 3 {
				skipped = task
			}
		}
		// a cancelled ticket must not hold up the ones behind it
		skipped.Cancel()
		return nil
	}, WithDispatcher(d))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	want := []int{0, 1, 2, 4, 5, 6, 7}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if skipped.State() != Cancelled {
		t.Fatalf("cancelled task state = %v", skipped.State())
	}
}

func TestStartAtomicRunsCancelledTask(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), FailFast, WithDispatcher(newDispatcher(t)))
	s.Cancel(nil)
	var ran atomic.Bool
	task, err := s.Spawn(func(ctx context.Context) error {
		ran.Store(true)
		return ctx.Err()
	}, StartAtomic())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	_ = s.Wait()
	if !ran.Load() {
		t.Fatal("StartAtomic task did not run its body")
	}
	if task.State() != Cancelled {
		t.Fatalf("state = %v, want cancelled", task.State())
	}
}
