package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/r7l-labs/warden/internal/core"
	"github.com/r7l-labs/warden/internal/eventbus"
	"github.com/r7l-labs/warden/internal/server"
	"github.com/r7l-labs/warden/internal/server/sim"
	"github.com/r7l-labs/warden/internal/services/scheduler"
	"github.com/r7l-labs/warden/internal/storage"
	logx "github.com/r7l-labs/warden/pkg/logx"
)

// testRig wires a real scheduler, a registry of sim handles, and an
// in-memory config manager, mirroring what the app hands plugins.
type testRig struct {
	deps  core.PluginDeps
	sched *scheduler.Service
	reg   *server.Registry
	bus   eventbus.Bus
}

func newTestRig(t *testing.T, names ...string) *testRig {
	t.Helper()
	log := logx.Nop()
	bus := eventbus.New()

	sched := scheduler.New(scheduler.Config{Enabled: true, Workers: 2}, log, bus)
	sched.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	reg := server.NewRegistry(log)
	entries := make([]core.ServerConfig, 0, len(names))
	specs := make([]server.Config, 0, len(names))
	for _, n := range names {
		entries = append(entries, core.ServerConfig{Name: n, Driver: "sim"})
		specs = append(specs, server.Config{Name: n, Driver: server.DriverSim})
	}
	reg.Apply(context.Background(), specs)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = reg.CloseAll(ctx)
	})

	cfgm := core.NewConfigManager(filepath.Join(t.TempDir(), "warden.yaml"))
	cfgm.Commit(&core.Config{Servers: entries})

	return &testRig{
		deps: core.PluginDeps{
			Logger:    log,
			Config:    cfgm,
			Scheduler: sched,
			Bus:       bus,
			Servers:   reg,
		},
		sched: sched,
		reg:   reg,
		bus:   bus,
	}
}

func (r *testRig) simHandle(t *testing.T, name string) *sim.Server {
	t.Helper()
	h, ok := r.reg.Get(name)
	if !ok {
		t.Fatalf("no handle for %q", name)
	}
	s, ok := h.(*sim.Server)
	if !ok {
		t.Fatalf("handle for %q is %T, want *sim.Server", name, h)
	}
	return s
}

func startPlugin(t *testing.T, rig *testRig, raw json.RawMessage) *Plugin {
	t.Helper()
	p := New()
	ctx := context.Background()
	if err := p.Init(ctx, rig.deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.OnConfigChange(ctx, raw); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event within 2s", typ)
		}
	}
}

func expectQuiet(t *testing.T, ch <-chan eventbus.Event, typ string, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				t.Fatalf("unexpected %s event: %+v", typ, e.Data)
			}
		case <-deadline:
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s not observed within 2s", what)
}

func TestHeartbeatTransitions(t *testing.T) {
	rig := newTestRig(t, "alpha", "beta")
	ch, unsub := rig.bus.Subscribe(16)
	defer unsub()

	p := startPlugin(t, rig, nil)
	defer func() { _ = p.Stop(context.Background()) }()

	beta := rig.simHandle(t, "beta")
	beta.SetPingError(errors.New("connection refused"))

	p.tick(context.Background())
	e := waitEvent(t, ch, eventbus.TypeServerDown)
	sh, ok := e.Data.(eventbus.ServerHealth)
	if !ok {
		t.Fatalf("event data = %T, want ServerHealth", e.Data)
	}
	if sh.Server != "beta" || sh.Err == "" {
		t.Fatalf("down event = %+v, want beta with an error", sh)
	}
	if got := p.DownServers(); len(got) != 1 || got[0] != "beta" {
		t.Fatalf("DownServers = %v, want [beta]", got)
	}

	// Still failing: no repeat announcement.
	p.tick(context.Background())
	expectQuiet(t, ch, eventbus.TypeServerDown, 100*time.Millisecond)

	beta.SetPingError(nil)
	p.tick(context.Background())
	e = waitEvent(t, ch, eventbus.TypeServerUp)
	if sh := e.Data.(eventbus.ServerHealth); sh.Server != "beta" {
		t.Fatalf("up event = %+v, want beta", sh)
	}
	if got := p.DownServers(); len(got) != 0 {
		t.Fatalf("DownServers = %v after recovery, want none", got)
	}
}

func TestHeartbeatGraceSuppressesDown(t *testing.T) {
	rig := newTestRig(t, "alpha")
	ch, unsub := rig.bus.Subscribe(16)
	defer unsub()

	p := startPlugin(t, rig, json.RawMessage(`{"restart_grace":"1h"}`))
	defer func() { _ = p.Stop(context.Background()) }()

	// A restart was just dispatched; the watcher arms the grace window.
	rig.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRestartAttempt,
		Time: time.Now(),
		Data: eventbus.RestartAttempt{Server: "alpha", Outcome: storage.OutcomeSuccess},
	})
	waitFor(t, "grace window", func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.graceUntil != nil && !p.graceUntil["alpha"].IsZero()
	})

	rig.simHandle(t, "alpha").SetPingError(errors.New("rebooting"))
	p.tick(context.Background())
	if got := p.DownServers(); len(got) != 0 {
		t.Fatalf("DownServers = %v inside grace, want none", got)
	}
	expectQuiet(t, ch, eventbus.TypeServerDown, 100*time.Millisecond)

	// Grace over, still failing: the transition fires now.
	p.mu.Lock()
	p.graceUntil["alpha"] = time.Now().Add(-time.Second)
	p.mu.Unlock()

	p.tick(context.Background())
	e := waitEvent(t, ch, eventbus.TypeServerDown)
	if sh := e.Data.(eventbus.ServerHealth); sh.Server != "alpha" {
		t.Fatalf("down event = %+v, want alpha", sh)
	}
	if got := p.DownServers(); len(got) != 1 || got[0] != "alpha" {
		t.Fatalf("DownServers = %v, want [alpha]", got)
	}
}

func TestHeartbeatExhaustedRestartGetsNoGrace(t *testing.T) {
	rig := newTestRig(t, "alpha")
	ch, unsub := rig.bus.Subscribe(16)
	defer unsub()

	p := startPlugin(t, rig, json.RawMessage(`{"restart_grace":"1h"}`))
	defer func() { _ = p.Stop(context.Background()) }()

	// Every restart candidate failed, so nothing bounced. That attempt must
	// not buy the server a grace window.
	rig.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRestartAttempt,
		Time: time.Now(),
		Data: eventbus.RestartAttempt{Server: "alpha", Outcome: storage.OutcomeExhausted, Err: "stop: stop broken"},
	})
	// Let the watcher drain the event before probing.
	time.Sleep(50 * time.Millisecond)

	rig.simHandle(t, "alpha").SetPingError(errors.New("connection refused"))
	p.tick(context.Background())

	e := waitEvent(t, ch, eventbus.TypeServerDown)
	if sh := e.Data.(eventbus.ServerHealth); sh.Server != "alpha" {
		t.Fatalf("down event = %+v, want alpha", sh)
	}
	if got := p.DownServers(); len(got) != 1 || got[0] != "alpha" {
		t.Fatalf("DownServers = %v, want [alpha]", got)
	}

	p.mu.Lock()
	armed := !p.graceUntil["alpha"].IsZero()
	p.mu.Unlock()
	if armed {
		t.Fatal("grace window armed by an exhausted attempt")
	}
}

func TestHeartbeatScheduleLifecycle(t *testing.T) {
	rig := newTestRig(t, "alpha")

	p := startPlugin(t, rig, nil)

	specOf := func() (string, int) {
		spec, count := "", 0
		for _, it := range rig.sched.Snapshot().Schedules {
			if it.Name == taskName {
				spec = it.Spec
				count++
			}
		}
		return spec, count
	}

	if spec, count := specOf(); spec != "@every 1m0s" || count != 1 {
		t.Fatalf("probe schedule = %q x%d, want @every 1m0s x1", spec, count)
	}

	// Reconfigure while running: the registration upserts in place.
	if err := p.OnConfigChange(context.Background(), json.RawMessage(`{"schedule":"30s"}`)); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}
	if spec, count := specOf(); spec != "@every 30s" || count != 1 {
		t.Fatalf("probe schedule = %q x%d after reconfigure, want @every 30s x1", spec, count)
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, count := specOf(); count != 0 {
		t.Fatalf("probe schedule survived Stop")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestHeartbeatValidateConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"empty", "", false},
		{"defaults", "{}", false},
		{"duration schedule", `{"schedule":"30s"}`, false},
		{"cron schedule", `{"schedule":"*/5 * * * *"}`, false},
		{"hhmm schedule", `{"schedule":"00:30"}`, false},
		{"bad schedule", `{"schedule":"yearly-ish"}`, true},
		{"bad probe timeout", `{"probe_timeout":"fast"}`, true},
		{"zero probe timeout", `{"probe_timeout":"0s"}`, true},
		{"negative grace", `{"restart_grace":"-1m"}`, true},
		{"unknown field", `{"schedul":"1m"}`, true},
	}
	p := New()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := p.ValidateConfig(context.Background(), json.RawMessage(tc.raw))
			if tc.wantErr && err == nil {
				t.Fatalf("ValidateConfig(%s) = nil, want error", tc.raw)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("ValidateConfig(%s) = %v", tc.raw, err)
			}
		})
	}
}
