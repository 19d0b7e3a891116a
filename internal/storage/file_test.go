package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "warden.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for file driver")
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected disabled (nil) store", driver)
		}
	}
}

func TestFileStoreAttemptsRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestStore(t, dir)

	base := time.Now().Add(-time.Minute)
	attempts := []Attempt{
		{ID: "a1", At: base, Server: "lobby", Outcome: OutcomeSuccess, Capability: "dispatch_command", Command: "restart", TookMS: 12},
		{ID: "a2", At: base.Add(time.Second), Server: "survival", Outcome: OutcomeExhausted, Error: "dispatch_command: boom"},
		{ID: "a3", At: base.Add(2 * time.Second), Server: "lobby", Outcome: OutcomeSuccess, Capability: "stop"},
	}
	for _, a := range attempts {
		if err := st.AppendAttempt(ctx, a); err != nil {
			t.Fatalf("AppendAttempt(%s): %v", a.ID, err)
		}
	}

	got, err := st.RecentAttempts(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentAttempts: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a3" || got[2].ID != "a1" {
		t.Fatalf("unexpected order/content: %+v", got)
	}

	lobby, err := st.RecentAttempts(ctx, "lobby", 10)
	if err != nil {
		t.Fatalf("RecentAttempts(lobby): %v", err)
	}
	if len(lobby) != 2 || lobby[0].ID != "a3" || lobby[1].ID != "a1" {
		t.Fatalf("server filter broken: %+v", lobby)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the tail window must be reloaded from the jsonl file.
	st2 := openTestStore(t, dir)
	defer st2.Close()
	got2, err := st2.RecentAttempts(ctx, "", 2)
	if err != nil {
		t.Fatalf("RecentAttempts after reopen: %v", err)
	}
	if len(got2) != 2 || got2[0].ID != "a3" || got2[1].ID != "a2" {
		t.Fatalf("tail reload broken: %+v", got2)
	}
	if got2[0].Capability != "stop" || got2[1].Error == "" {
		t.Fatalf("fields lost on reload: %+v", got2)
	}
}

func TestFileStoreDedup(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	st := openTestStore(t, dir)

	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	if err := st.PutDedup(ctx, "notify:lobby:exhausted", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	got, ok, err := st.GetDedup(ctx, "notify:lobby:exhausted")
	if err != nil || !ok {
		t.Fatalf("GetDedup: ok=%v err=%v", ok, err)
	}
	if !got.Equal(until) {
		t.Fatalf("until = %v, want %v", got, until)
	}

	if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
		t.Fatal("missing key reported present")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Journal replay across reopen.
	st2 := openTestStore(t, dir)
	defer st2.Close()
	got2, ok, err := st2.GetDedup(ctx, "notify:lobby:exhausted")
	if err != nil || !ok {
		t.Fatalf("GetDedup after reopen: ok=%v err=%v", ok, err)
	}
	if !got2.Equal(until) {
		t.Fatalf("until after reopen = %v, want %v", got2, until)
	}
}
