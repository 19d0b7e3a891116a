package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	err   error
	calls int
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func runPipeline(t *testing.T, cfg Config, snd Sender, notify func(*Service)) {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000 // tests should not wait on the bucket
	}
	s := New(cfg, snd, nil, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	notify(s)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func TestNotifyPriorityPrefixes(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	runPipeline(t, Config{}, snd, func(s *Service) {
		for _, n := range []Notification{
			{Priority: 9, Text: "down hard", DedupKey: "a"},
			{Priority: 5, Text: "degraded", DedupKey: "b"},
			{Priority: 1, Text: "fyi", DedupKey: "c"},
		} {
			if err := s.Notify(context.Background(), n); err != nil {
				t.Fatalf("Notify: %v", err)
			}
		}
	})

	sent := snd.sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3: %v", len(sent), sent)
	}
	wantPrefix := map[string]string{"down hard": "🚨", "degraded": "⚠️", "fyi": "ℹ️"}
	for _, text := range sent {
		matched := false
		for body, prefix := range wantPrefix {
			if strings.HasSuffix(text, body) {
				matched = true
				if !strings.HasPrefix(text, prefix) {
					t.Fatalf("message %q missing prefix %q", text, prefix)
				}
			}
		}
		if !matched {
			t.Fatalf("unexpected message %q", text)
		}
	}
}

func TestNotifyMinPriorityFilters(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	runPipeline(t, Config{MinPriority: 5}, snd, func(s *Service) {
		if err := s.Notify(context.Background(), Notification{Priority: 2, Text: "noise"}); err != nil {
			t.Fatalf("below-threshold Notify should be a silent no-op, got %v", err)
		}
		if err := s.Notify(context.Background(), Notification{Priority: 6, Text: "signal"}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	})

	sent := snd.sent()
	if len(sent) != 1 || !strings.HasSuffix(sent[0], "signal") {
		t.Fatalf("sent = %v, want only the high-priority message", sent)
	}
}

func TestNotifyDedupWindow(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	runPipeline(t, Config{DedupWindow: time.Hour}, snd, func(s *Service) {
		for i := 0; i < 3; i++ {
			_ = s.Notify(context.Background(), Notification{Priority: 6, Text: "restart exhausted on lobby", DedupKey: "autorestart:lobby:exhausted"})
		}
		// Different key passes.
		_ = s.Notify(context.Background(), Notification{Priority: 6, Text: "restart exhausted on survival", DedupKey: "autorestart:survival:exhausted"})
	})

	if got := len(snd.sent()); got != 2 {
		t.Fatalf("sent %d messages, want 2 (dedup window): %v", got, snd.sent())
	}
}

func TestNotifyRetriesThenFails(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{err: errors.New("telegram down")}
	runPipeline(t, Config{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, snd, func(s *Service) {
		_ = s.Notify(context.Background(), Notification{Priority: 6, Text: "x", DedupKey: "k"})
	})

	if got := snd.callCount(); got != 3 {
		t.Fatalf("send attempted %d times, want 3 (1 + 2 retries)", got)
	}
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeSender{}, nil, logx.Nop(), nil)
	if err := s.Notify(context.Background(), Notification{Priority: 6, Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestNotifyWithoutSenderDegradesToLogs(t *testing.T) {
	t.Parallel()
	cfg := Config{Enabled: true, RatePerSec: 1000}
	s := New(cfg, nil, nil, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	if err := s.Notify(context.Background(), Notification{Priority: 6, Text: "orphan alert", DedupKey: "k"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	hist := s.Snapshot()
	if len(hist) != 1 || !strings.HasSuffix(hist[0].Text, "orphan alert") {
		t.Fatalf("history = %+v, want the degraded alert recorded", hist)
	}
}
