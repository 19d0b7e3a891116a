// Package autorestart keeps managed game servers fresh by restarting them on
// a per-server schedule. The interval comes from warden's own config when set,
// or from the environment or the server's host config surface otherwise; the
// restart itself is a best-effort probe over whatever control capabilities the
// server's handle exposes.
package autorestart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/r7l-labs/warden/internal/core"
	"github.com/r7l-labs/warden/internal/server"
	"github.com/r7l-labs/warden/internal/services/scheduler"
	logx "github.com/r7l-labs/warden/pkg/logx"
)

const (
	defaultCommand        = "restart"
	defaultAttemptTimeout = 15 * time.Second
)

type Config struct {
	// Interval overrides the restart interval for every managed server
	// (Go duration string). A per-server `interval` entry wins over this.
	Interval string `json:"interval,omitempty"`
	// Command is sent to command-style restart capabilities. Default "restart".
	Command string `json:"command,omitempty"`
	// AttemptTimeout bounds each capability call. Default "15s".
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
	// Servers restricts scheduling to the named entries. Empty means all.
	Servers []string `json:"servers,omitempty"`
}

type Plugin struct {
	core.PluginBase

	mu      sync.Mutex
	cfg     Config
	started bool
	// active maps server name -> scheduled interval while the plugin runs.
	active map[string]time.Duration
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "autorestart" }

func (p *Plugin) Init(ctx context.Context, deps core.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.mu.Lock()
	p.started = true
	cfg := p.cfg
	p.mu.Unlock()
	p.reschedule(ctx, cfg)
	return nil
}

// Stop removes every registered schedule. Safe to call repeatedly and before
// Start; an in-flight restart pass finishes on its own (it is bounded by the
// per-run budget).
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.started = false
	active := p.active
	p.active = nil
	p.mu.Unlock()

	if sched := p.Deps.Scheduler; sched != nil {
		for name := range active {
			sched.Remove(scheduleName(name))
		}
	}
	return p.StopBase(ctx)
}

// OnConfigChange re-resolves intervals and re-registers schedules. Before
// Start it only records the config; the plugin manager calls it once ahead of
// Start and activation happens there.
func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return fmt.Errorf("autorestart config: %w", err)
	}
	p.mu.Lock()
	p.cfg = cfg
	started := p.started
	p.mu.Unlock()

	if started {
		p.reschedule(ctx, cfg)
	}
	return nil
}

// ValidateConfig rejects a config blob before it is committed. Stricter than
// the apply path: unknown fields fail here so typos surface on reload.
func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var c Config
	if err := dec.Decode(&c); err != nil {
		return fmt.Errorf("autorestart config: %w", err)
	}
	for _, f := range []struct{ key, raw string }{
		{"interval", c.Interval},
		{"attempt_timeout", c.AttemptTimeout},
	} {
		s := strings.TrimSpace(f.raw)
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("autorestart %s: invalid duration %q: %w", f.key, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("autorestart %s: must be > 0", f.key)
		}
	}
	return nil
}

func scheduleName(server string) string { return "autorestart:" + server }

// reschedule converges the registered schedules onto the current config.
// Registration upserts by name, so re-activating a server can never leave two
// timers behind; servers that left the config or allowlist are removed.
func (p *Plugin) reschedule(ctx context.Context, cfg Config) {
	sched := p.Deps.Scheduler
	if sched == nil {
		p.Log.Warn("scheduler unavailable; nothing scheduled")
		return
	}
	reg := p.Deps.Servers
	if reg == nil {
		p.Log.Warn("server registry unavailable; nothing scheduled")
		return
	}

	var entries []core.ServerConfig
	if p.Deps.Config != nil {
		if appCfg := p.Deps.Config.Get(); appCfg != nil {
			entries = appCfg.Servers
		}
	}

	allow := map[string]bool{}
	for _, n := range cfg.Servers {
		if n = strings.TrimSpace(n); n != "" {
			allow[n] = true
		}
	}

	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		command = defaultCommand
	}
	attemptTimeout := mustDur(cfg.AttemptTimeout, defaultAttemptTimeout)

	desired := map[string]time.Duration{}
	for _, sc := range entries {
		name := strings.TrimSpace(sc.Name)
		if name == "" || (len(allow) > 0 && !allow[name]) {
			continue
		}
		h, ok := reg.Get(name)
		if !ok {
			// Opening the handle failed or the entry was skipped; the next
			// config apply retries, so skip without failing the others.
			p.Log.Warn("server handle unavailable; skipping", logx.String("server", name))
			continue
		}

		interval := resolveInterval(ctx, h, []string{sc.Interval, cfg.Interval}, p.Log)

		// Capability snapshot happens once per activation, not per tick.
		cands := server.Candidates(h)
		if len(cands) == 0 {
			p.Log.Warn("handle exposes no restart capability; scheduling anyway", logx.String("server", name))
		}

		cmd := command
		if c := strings.TrimSpace(sc.RestartCommand); c != "" {
			cmd = c
		}

		iv := &invoker{
			server:  name,
			command: cmd,
			timeout: attemptTimeout,
			cands:   cands,
			log:     p.Log,
			store:   p.Deps.Store,
			bus:     p.Deps.Bus,
			notif:   p.Deps.Notifier,
		}

		// Whole-pass budget: every candidate may burn its full timeout.
		runBudget := attemptTimeout * time.Duration(max(1, len(cands)))

		_, err := sched.AddIntervalOpt(
			scheduleName(name),
			interval,
			runBudget,
			scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning, NoRetry: true},
			func(ctx context.Context) error {
				iv.run(ctx)
				return nil
			},
		)
		if err != nil {
			p.Log.Error("restart schedule failed", logx.String("server", name), logx.Any("err", err))
			continue
		}
		desired[name] = interval
		p.Log.Info("restart scheduled",
			logx.String("server", name),
			logx.Duration("interval", interval),
			logx.Int("capabilities", len(cands)),
			logx.String("command", cmd),
		)
	}

	p.mu.Lock()
	stale := make([]string, 0)
	for name := range p.active {
		if _, keep := desired[name]; !keep {
			stale = append(stale, name)
		}
	}
	p.active = desired
	p.mu.Unlock()

	for _, name := range stale {
		sched.Remove(scheduleName(name))
		p.Log.Info("restart schedule removed", logx.String("server", name))
	}
}

func mustDur(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
