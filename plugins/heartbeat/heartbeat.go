// Package heartbeat probes managed server handles for liveness and reports
// up/down transitions. It has no restart authority; it only watches.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/r7l-labs/warden/internal/core"
	"github.com/r7l-labs/warden/internal/eventbus"
	"github.com/r7l-labs/warden/internal/server"
	"github.com/r7l-labs/warden/internal/services/notify"
	"github.com/r7l-labs/warden/internal/services/scheduler"
	"github.com/r7l-labs/warden/internal/storage"
	logx "github.com/r7l-labs/warden/pkg/logx"
)

const (
	defaultSchedule     = "1m"
	defaultProbeTimeout = 5 * time.Second
	defaultRestartGrace = 90 * time.Second

	taskName = "heartbeat:probe"
)

type Config struct {
	// Schedule accepts a cron spec, a Go duration, or HH:MM shorthand.
	// Default "1m".
	Schedule string `json:"schedule,omitempty"`
	// ProbeTimeout bounds each ping. Default "5s".
	ProbeTimeout string `json:"probe_timeout,omitempty"`
	// RestartGrace suppresses down transitions right after a restart was
	// dispatched: the server is expected to bounce. Default "90s".
	RestartGrace string `json:"restart_grace,omitempty"`
}

type Plugin struct {
	core.PluginBase

	mu      sync.Mutex
	cfg     Config
	started bool
	// down holds the servers last observed unhealthy.
	down map[string]bool
	// graceUntil suppresses down transitions per server after a restart.
	graceUntil map[string]time.Time
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "heartbeat" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.mu.Lock()
	p.started = true
	p.down = map[string]bool{}
	p.graceUntil = map[string]time.Time{}
	cfg := p.cfg
	p.mu.Unlock()

	if p.Deps.Bus != nil {
		ch, unsub := p.Deps.Bus.Subscribe(16)
		p.Runner.Go0("grace.watch", func(ctx context.Context) {
			defer unsub()
			p.watchRestarts(ctx, ch)
		})
	}

	return p.schedule(cfg)
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.started = false
	p.down = nil
	p.graceUntil = nil
	p.mu.Unlock()

	if sched := p.Deps.Scheduler; sched != nil {
		sched.Remove(taskName)
	}
	return p.StopBase(ctx)
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return fmt.Errorf("heartbeat config: %w", err)
	}
	p.mu.Lock()
	p.cfg = cfg
	started := p.started
	p.mu.Unlock()

	if started {
		return p.schedule(cfg)
	}
	return nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var c Config
	if err := dec.Decode(&c); err != nil {
		return fmt.Errorf("heartbeat config: %w", err)
	}
	if s := strings.TrimSpace(c.Schedule); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			return fmt.Errorf("heartbeat schedule: %w", err)
		}
	}
	for _, f := range []struct{ key, raw string }{
		{"probe_timeout", c.ProbeTimeout},
		{"restart_grace", c.RestartGrace},
	} {
		s := strings.TrimSpace(f.raw)
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("heartbeat %s: invalid duration %q: %w", f.key, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("heartbeat %s: must be > 0", f.key)
		}
	}
	return nil
}

func (p *Plugin) schedule(cfg Config) error {
	sched := p.Deps.Scheduler
	if sched == nil {
		p.Log.Warn("scheduler unavailable; probes disabled")
		return nil
	}
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = defaultSchedule
	}
	_, err := sched.AddScheduleOpt(taskName, spec, 0,
		scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning, NoRetry: true},
		func(ctx context.Context) error {
			p.tick(ctx)
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("heartbeat schedule: %w", err)
	}
	p.Log.Info("probes scheduled", logx.String("schedule", spec))
	return nil
}

// watchRestarts consumes restart attempts and arms a grace window for the
// affected server, so the intentional bounce does not page anyone.
func (p *Plugin) watchRestarts(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type != eventbus.TypeRestartAttempt {
				continue
			}
			ra, ok := e.Data.(eventbus.RestartAttempt)
			if !ok || ra.Server == "" {
				continue
			}
			// Only a dispatched restart earns grace. An exhausted attempt
			// changed nothing on the server, so a down verdict stands.
			if ra.Outcome != storage.OutcomeSuccess {
				continue
			}
			p.mu.Lock()
			grace := mustDur(p.cfg.RestartGrace, defaultRestartGrace)
			if p.graceUntil != nil {
				p.graceUntil[ra.Server] = time.Now().Add(grace)
			}
			p.mu.Unlock()
		}
	}
}

// tick probes every handle that supports pings and reports transitions only.
func (p *Plugin) tick(ctx context.Context) {
	reg := p.Deps.Servers
	if reg == nil {
		return
	}

	p.mu.Lock()
	timeout := mustDur(p.cfg.ProbeTimeout, defaultProbeTimeout)
	p.mu.Unlock()

	for _, h := range reg.Handles() {
		if ctx.Err() != nil {
			return
		}
		pinger, ok := h.(server.Pinger)
		if !ok {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := pinger.Ping(pctx)
		cancel()

		if err != nil && ctx.Err() != nil {
			// The run was cut mid-probe; the failure is not a verdict.
			return
		}
		if err == nil {
			p.markUp(h.Name())
		} else {
			p.markDown(ctx, h.Name(), err)
		}
	}
}

func (p *Plugin) markUp(name string) {
	p.mu.Lock()
	wasDown := p.down != nil && p.down[name]
	if wasDown {
		delete(p.down, name)
	}
	p.mu.Unlock()

	if !wasDown {
		return
	}
	p.Log.Info("server up", logx.String("server", name))
	if p.Deps.Bus != nil {
		p.Deps.Bus.Publish(eventbus.Event{
			Type: eventbus.TypeServerUp,
			Data: eventbus.ServerHealth{Server: name},
		})
	}
}

func (p *Plugin) markDown(ctx context.Context, name string, err error) {
	now := time.Now()
	p.mu.Lock()
	alreadyDown := p.down != nil && p.down[name]
	inGrace := p.graceUntil != nil && now.Before(p.graceUntil[name])
	if !alreadyDown && !inGrace && p.down != nil {
		p.down[name] = true
	}
	p.mu.Unlock()

	if alreadyDown {
		return
	}
	if inGrace {
		// Expected bounce after a restart; check again next tick.
		p.Log.Debug("probe failed within restart grace", logx.String("server", name), logx.Any("err", err))
		return
	}

	p.Log.Warn("server down", logx.String("server", name), logx.Any("err", err))
	if p.Deps.Bus != nil {
		p.Deps.Bus.Publish(eventbus.Event{
			Type: eventbus.TypeServerDown,
			Data: eventbus.ServerHealth{Server: name, Err: err.Error()},
		})
	}
	_ = p.Notify(ctx, notify.Notification{
		Priority: 5,
		Text:     "heartbeat: " + name + " is down: " + err.Error(),
		DedupKey: "heartbeat:down:" + name,
	})
}

// DownServers lists the servers currently considered down, sorted.
func (p *Plugin) DownServers() []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.down))
	for name := range p.down {
		out = append(out, name)
	}
	p.mu.Unlock()
	sort.Strings(out)
	return out
}

func mustDur(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
