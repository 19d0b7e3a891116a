package sim

import (
	"context"
	"errors"
	"testing"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

func TestDispatchRecordsCommands(t *testing.T) {
	t.Parallel()
	s := New("lobby", logx.Nop())

	for _, cmd := range []string{"restart", "save-all"} {
		if err := s.DispatchCommand(context.Background(), cmd); err != nil {
			t.Fatalf("DispatchCommand(%q): %v", cmd, err)
		}
	}
	got := s.Received()
	if len(got) != 2 || got[0] != "restart" || got[1] != "save-all" {
		t.Fatalf("Received = %v", got)
	}

	// Received returns a copy; mutating it must not leak back.
	got[0] = "mutated"
	if s.Received()[0] != "restart" {
		t.Fatal("Received exposed internal state")
	}
}

func TestDispatchFailureInjection(t *testing.T) {
	t.Parallel()
	s := New("lobby", logx.Nop(), WithDispatchFailures(2))

	for i := 0; i < 2; i++ {
		if err := s.DispatchCommand(context.Background(), "restart"); err == nil {
			t.Fatalf("injected failure %d did not fire", i+1)
		}
	}
	if err := s.DispatchCommand(context.Background(), "restart"); err != nil {
		t.Fatalf("dispatch after injected failures: %v", err)
	}
	if got := s.Received(); len(got) != 1 {
		t.Fatalf("Received = %v, want only the successful dispatch", got)
	}
}

func TestHostConfigIsCopied(t *testing.T) {
	t.Parallel()
	src := map[string]any{"autorestart_interval_seconds": 120}
	s := New("lobby", logx.Nop(), WithHostConfig(src))

	m, err := s.HostConfig(context.Background())
	if err != nil {
		t.Fatalf("HostConfig: %v", err)
	}
	if m["autorestart_interval_seconds"] != 120 {
		t.Fatalf("HostConfig = %v", m)
	}
	m["autorestart_interval_seconds"] = -1
	m2, _ := s.HostConfig(context.Background())
	if m2["autorestart_interval_seconds"] != 120 {
		t.Fatal("HostConfig returned shared state")
	}
}

func TestPingErrorInjection(t *testing.T) {
	t.Parallel()
	s := New("lobby", logx.Nop())

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	boom := errors.New("boom")
	s.SetPingError(boom)
	if err := s.Ping(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Ping = %v, want injected error", err)
	}
	s.SetPingError(nil)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping after clear: %v", err)
	}
}

func TestClosedHandleRefusesEverything(t *testing.T) {
	t.Parallel()
	s := New("lobby", logx.Nop())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s.Closed() {
		t.Fatal("Closed() = false after Close")
	}
	ctx := context.Background()
	if err := s.DispatchCommand(ctx, "restart"); err == nil {
		t.Fatal("dispatch on closed handle succeeded")
	}
	if _, err := s.HostConfig(ctx); err == nil {
		t.Fatal("host config on closed handle succeeded")
	}
	if err := s.Ping(ctx); err == nil {
		t.Fatal("ping on closed handle succeeded")
	}
}

func TestCanceledContextWins(t *testing.T) {
	t.Parallel()
	s := New("lobby", logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.DispatchCommand(ctx, "restart"); !errors.Is(err, context.Canceled) {
		t.Fatalf("DispatchCommand = %v, want context.Canceled", err)
	}
	if got := s.Received(); len(got) != 0 {
		t.Fatalf("Received = %v after canceled dispatch", got)
	}
}
