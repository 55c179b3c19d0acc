package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func startTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{Workers: 2}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.Stop(stopCtx)
		stopCancel()
		cancel()
	})
	return s
}

func TestScheduleFiresOnce(t *testing.T) {
	s := startTestService(t)

	fired := make(chan struct{}, 4)
	err := s.Schedule("once", time.Now().Add(20*time.Millisecond), func(context.Context) error {
		fired <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	select {
	case <-fired:
		t.Fatal("timer fired twice")
	case <-time.After(100 * time.Millisecond):
	}
	if s.Pending("once") {
		t.Fatal("fired timer still pending")
	}
}

func TestScheduleUpsertsByName(t *testing.T) {
	s := startTestService(t)

	var old, replacement atomic.Int32
	if err := s.Schedule("job", time.Now().Add(50*time.Millisecond), func(context.Context) error {
		old.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	if err := s.Schedule("job", time.Now().Add(50*time.Millisecond), func(context.Context) error {
		replacement.Add(1)
		close(done)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement never fired")
	}
	time.Sleep(100 * time.Millisecond)
	if n := old.Load(); n != 0 {
		t.Fatalf("replaced callback ran %d times", n)
	}
	if n := replacement.Load(); n != 1 {
		t.Fatalf("replacement ran %d times, want 1", n)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := startTestService(t)

	var fired atomic.Int32
	if err := s.Schedule("doomed", time.Now().Add(50*time.Millisecond), func(context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !s.Cancel("doomed") {
		t.Fatal("Cancel reported no pending timer")
	}
	if s.Cancel("doomed") {
		t.Fatal("second Cancel reported a pending timer")
	}

	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("cancelled callback ran %d times", n)
	}
}

func TestCancelKeepsVersionMonotonic(t *testing.T) {
	s := startTestService(t)

	noop := func(context.Context) error { return nil }
	if err := s.Schedule("job", time.Now().Add(time.Hour), noop); err != nil {
		t.Fatal(err)
	}
	s.tmu.Lock()
	v1 := s.vers["job"]
	s.tmu.Unlock()

	if !s.Cancel("job") {
		t.Fatal("Cancel reported no pending timer")
	}
	if err := s.Schedule("job", time.Now().Add(time.Hour), noop); err != nil {
		t.Fatal(err)
	}
	s.tmu.Lock()
	v2 := s.vers["job"]
	s.tmu.Unlock()

	// A reused name must never come back at an old version, or a stale
	// AfterFunc callback could match it and run the wrong job.
	if v2 <= v1 {
		t.Fatalf("version went %d -> %d after cancel+reschedule, want strictly increasing", v1, v2)
	}
}

func TestSchedulePastInstantStillFires(t *testing.T) {
	s := startTestService(t)

	done := make(chan struct{})
	if err := s.Schedule("late", time.Now().Add(-time.Hour), func(context.Context) error {
		close(done)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("past-instant timer never fired")
	}
}

func TestScheduleBeforeStartBuffers(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop())

	done := make(chan struct{})
	if err := s.Schedule("early", time.Now().Add(20*time.Millisecond), func(context.Context) error {
		close(done)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// The timer fires into the queue while no worker is running yet.
	time.Sleep(100 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("callback ran before Start")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.Stop(stopCtx)
		stopCancel()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered callback never ran after Start")
	}
}
