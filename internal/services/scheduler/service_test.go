package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	cfg.Enabled = true
	return New(cfg, logx.Nop(), nil)
}

func countByName(s *Service, name string) int {
	n := 0
	for _, it := range s.Snapshot().Schedules {
		if it.Name == name {
			n++
		}
	}
	return n
}

func TestAddIntervalUpsertsByName(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	job := func(context.Context) error { return nil }
	if _, err := s.AddInterval("lobby", time.Hour, 0, job); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	if _, err := s.AddInterval("lobby", 30*time.Minute, 0, job); err != nil {
		t.Fatalf("AddInterval (replace): %v", err)
	}

	if got := countByName(s, "lobby"); got != 1 {
		t.Fatalf("schedules named lobby = %d, want 1", got)
	}
	for _, it := range s.Snapshot().Schedules {
		if it.Name == "lobby" && it.Spec != "@every 30m0s" {
			t.Fatalf("spec = %q, want replacement interval", it.Spec)
		}
	}
}

func TestRemoveBeforeFirstRun(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	var fired atomic.Int64
	if _, err := s.AddInterval("short", time.Second, 0, func(context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	if !s.Remove("short") {
		t.Fatal("Remove returned false for existing schedule")
	}

	// Past the first tick boundary; nothing must have run.
	time.Sleep(1300 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("job fired %d times after removal, want 0", got)
	}
	if got := countByName(s, "short"); got != 0 {
		t.Fatalf("schedules named short = %d, want 0", got)
	}
}

func TestRegisterWhileStoppedAppliesOnStart(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})

	if _, err := s.AddInterval("deferred", time.Hour, 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || !snap.Schedules[0].Next.IsZero() {
		t.Fatalf("expected one inactive definition before Start, got %+v", snap.Schedules)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	snap = s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("expected schedule to be activated on Start, got %+v", snap.Schedules)
	}
}

func TestExecOneRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{HistorySize: 10})

	var calls atomic.Int64
	tk := task{
		id:   "test:retry",
		name: "retry",
		run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
		opt:   TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		state: &runState{},
	}
	s.execOne(context.Background(), make(chan struct{}), tk)

	if got := calls.Load(); got != 3 {
		t.Fatalf("run called %d times, want 3", got)
	}
	hist := s.Snapshot().History
	if len(hist) != 1 || hist[0].Error != "" {
		t.Fatalf("expected one successful history item, got %+v", hist)
	}
}

func TestExecOneNoRetry(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{RetryMax: 5, HistorySize: 10})

	var calls atomic.Int64
	tk := task{
		id:   "test:noretry",
		name: "noretry",
		run: func(context.Context) error {
			calls.Add(1)
			return errors.New("always fails")
		},
		opt:   TaskOptions{NoRetry: true},
		state: &runState{},
	}
	s.execOne(context.Background(), make(chan struct{}), tk)

	if got := calls.Load(); got != 1 {
		t.Fatalf("run called %d times, want 1 (retries disabled)", got)
	}
	hist := s.Snapshot().History
	if len(hist) != 1 || hist[0].Error == "" {
		t.Fatalf("expected one failed history item, got %+v", hist)
	}
}
