package autorestart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/r7l-labs/warden/internal/server"
	logx "github.com/r7l-labs/warden/pkg/logx"
)

// cfgHandle is a minimal handle exposing only the host-config surface.
type cfgHandle struct {
	name string
	m    map[string]any
	err  error
}

func (h *cfgHandle) Name() string { return h.name }
func (h *cfgHandle) Close() error { return nil }
func (h *cfgHandle) HostConfig(ctx context.Context) (map[string]any, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.m, nil
}

// bareHandle exposes nothing beyond the base interface.
type bareHandle struct{}

func (bareHandle) Name() string { return "bare" }
func (bareHandle) Close() error { return nil }

func TestResolveIntervalEnvWins(t *testing.T) {
	t.Setenv(EnvInterval, "900")
	h := &cfgHandle{name: "lobby", m: map[string]any{hostKeySeconds: 30}}

	got := resolveInterval(context.Background(), h, nil, logx.Nop())
	if got != 900*time.Second {
		t.Fatalf("resolveInterval = %v, want 15m0s", got)
	}
}

func TestResolveIntervalExplicitOverrideWins(t *testing.T) {
	t.Setenv(EnvInterval, "900")
	h := &cfgHandle{name: "lobby", m: map[string]any{hostKeySeconds: 30}}

	// First non-empty override wins; empty slots are skipped.
	got := resolveInterval(context.Background(), h, []string{"", "45m"}, logx.Nop())
	if got != 45*time.Minute {
		t.Fatalf("resolveInterval = %v, want 45m0s", got)
	}

	got = resolveInterval(context.Background(), h, []string{"30s", "45m"}, logx.Nop())
	if got != 30*time.Second {
		t.Fatalf("resolveInterval = %v, want 30s", got)
	}
}

func TestResolveIntervalInvalidOverrideFallsThrough(t *testing.T) {
	t.Setenv(EnvInterval, "")
	h := &cfgHandle{name: "lobby", m: map[string]any{hostKeySeconds: 30}}

	got := resolveInterval(context.Background(), h, []string{"not-a-duration", "0s"}, logx.Nop())
	if got != 30*time.Second {
		t.Fatalf("resolveInterval = %v, want 30s from host config", got)
	}
}

func TestResolveIntervalMalformedEnvFallsThrough(t *testing.T) {
	cases := []struct {
		name string
		val  string
	}{
		{"non_numeric", "soon"},
		{"zero", "0"},
		{"negative", "-5"},
		{"float", "12.5"}, // env accepts whole seconds only
		{"whitespace", "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvInterval, tc.val)
			h := &cfgHandle{name: "lobby", m: map[string]any{hostKeySeconds: 30}}

			got := resolveInterval(context.Background(), h, nil, logx.Nop())
			if got != 30*time.Second {
				t.Fatalf("env %q: resolveInterval = %v, want fall-through to 30s", tc.val, got)
			}
			if got <= 0 {
				t.Fatalf("env %q: resolved non-positive interval %v", tc.val, got)
			}
		})
	}
}

func TestResolveIntervalHostHours(t *testing.T) {
	t.Setenv(EnvInterval, "")
	h := &cfgHandle{name: "lobby", m: map[string]any{hostKeyHours: 2}}

	got := resolveInterval(context.Background(), h, nil, logx.Nop())
	if got != 2*time.Hour {
		t.Fatalf("resolveInterval = %v, want 2h0m0s", got)
	}
}

func TestResolveIntervalSecondsKeyWinsOverHours(t *testing.T) {
	t.Setenv(EnvInterval, "")
	h := &cfgHandle{name: "lobby", m: map[string]any{
		hostKeySeconds: 120,
		hostKeyHours:   2,
	}}

	got := resolveInterval(context.Background(), h, nil, logx.Nop())
	if got != 2*time.Minute {
		t.Fatalf("resolveInterval = %v, want 2m0s", got)
	}
}

func TestResolveIntervalMalformedSecondsFallsToHours(t *testing.T) {
	t.Setenv(EnvInterval, "")
	h := &cfgHandle{name: "lobby", m: map[string]any{
		hostKeySeconds: "soon",
		hostKeyHours:   1,
	}}

	got := resolveInterval(context.Background(), h, nil, logx.Nop())
	if got != time.Hour {
		t.Fatalf("resolveInterval = %v, want 1h0m0s", got)
	}
}

func TestResolveIntervalDefault(t *testing.T) {
	t.Setenv(EnvInterval, "")

	cases := map[string]server.Handle{
		"no_config_surface": bareHandle{},
		"empty_mapping":     &cfgHandle{name: "lobby", m: map[string]any{}},
		"config_error":      &cfgHandle{name: "lobby", err: errors.New("surface broken")},
		"malformed_values": &cfgHandle{name: "lobby", m: map[string]any{
			hostKeySeconds: false,
			hostKeyHours:   "later",
		}},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			got := resolveInterval(context.Background(), h, nil, logx.Nop())
			if got != 6*time.Hour {
				t.Fatalf("resolveInterval = %v, want default 6h0m0s", got)
			}
		})
	}
}

func TestCoerceSeconds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		v     any
		scale float64
		want  time.Duration
		ok    bool
	}{
		{"int", 30, 1, 30 * time.Second, true},
		{"int64", int64(45), 1, 45 * time.Second, true},
		{"uint64", uint64(10), 1, 10 * time.Second, true},
		{"float_hours", 1.5, 3600, 90 * time.Minute, true},
		{"float_whole", float64(300), 1, 5 * time.Minute, true},
		{"json_number", json.Number("2"), 3600, 2 * time.Hour, true},
		{"string_int", "600", 1, 10 * time.Minute, true},
		{"string_float", "0.5", 3600, 30 * time.Minute, true},
		{"string_padded", "  7  ", 1, 7 * time.Second, true},
		{"zero", 0, 1, 0, false},
		{"negative", -3, 3600, 0, false},
		{"non_numeric_string", "soon", 1, 0, false},
		{"bool", true, 1, 0, false},
		{"nil", nil, 1, 0, false},
		{"map", map[string]any{}, 1, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := coerceSeconds(tc.v, tc.scale)
			if ok != tc.ok {
				t.Fatalf("coerceSeconds(%v, %v) ok = %v, want %v", tc.v, tc.scale, ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("coerceSeconds(%v, %v) = %v, want %v", tc.v, tc.scale, got, tc.want)
			}
		})
	}
}
