package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/r7l-labs/warden/internal/adapters/telegram"
	"github.com/r7l-labs/warden/internal/eventbus"
	"github.com/r7l-labs/warden/internal/server"
	"github.com/r7l-labs/warden/internal/services/notify"
	"github.com/r7l-labs/warden/internal/services/scheduler"
	"github.com/r7l-labs/warden/internal/storage"
	logx "github.com/r7l-labs/warden/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store storage.Store

	sched   *scheduler.Service
	notif   *notify.Service
	servers *server.Registry
	pprof   *pprofServer

	pm *PluginManager
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateStatic(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logxConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	// Telegram is optional. A bad token must not keep game servers from being
	// restarted, so adapter failures degrade to log-only notifications.
	var sender notify.Sender
	n := derefNotify(cfg.Notify)
	if n.Enabled && strings.TrimSpace(n.Telegram.Token) != "" {
		ad, err := telegram.New(telegram.Config{
			Token:    n.Telegram.Token,
			ChatID:   n.Telegram.ChatID,
			ThreadID: n.Telegram.ThreadID,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			log.Warn("telegram unavailable; notifications degrade to logs", logx.Any("err", err))
		} else {
			sender = ad
			if cfg.Logging.Alerts.Enabled {
				logSvc.SetAlertSender(ad)
			}
		}
	}

	stCfg, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	notifCfg, err := notifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notify.New(notifCfg, sender, store, log.With(logx.String("comp", "notifier")), bus)

	servers := server.NewRegistry(log.With(logx.String("comp", "servers")))

	pm := NewPluginManager(log.With(logx.String("comp", "plugins")), cfgm, PluginDeps{
		Logger:    log,
		Config:    cfgm,
		Scheduler: schedSvc,
		Notifier:  notifSvc,
		Store:     store,
		Bus:       bus,
		Servers:   servers,
	})

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   schedSvc,
		notif:   notifSvc,
		servers: servers,
		pprof:   newPprofServer(log.With(logx.String("comp", "pprof"))),
		pm:      pm,
	}, nil
}

func (a *App) Plugins() *PluginManager { return a.pm }

// Bus exposes the in-process event stream (restart attempts, task lifecycle).
func (a *App) Bus() eventbus.Bus { return a.bus }

// Servers exposes the live handle registry.
func (a *App) Servers() *server.Registry { return a.servers }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			if err := validateStatic(cfg); err != nil {
				return err
			}
			if a.pm != nil {
				return a.pm.ValidateConfig(c, cfg)
			}
			return nil
		})
	}

	cfg := a.cfgm.Get()

	a.pprof.Apply(a.sup.Context(), cfg.Pprof)

	// Open driver handles before plugins so activation sees them.
	a.servers.Apply(a.sup.Context(), serverSpecs(cfg, a.log))

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.notif.Start(a.sup.Context())

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logging.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs, pluginChanged, serverChanged := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
					if len(pluginChanged) > 0 {
						a.log.Debug("plugin config changes detected", logx.Any("plugins", pluginChanged))
					}
					if len(serverChanged) > 0 {
						a.log.Debug("server wiring changes detected", logx.Any("servers", serverChanged))
					}
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				a.applyReload(c, newCfg, sections)

				// Keep the final log line concise (details are in debug logs).
				if len(sections) > 0 {
					a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload pushes a validated config into the running components.
// Order matters: server handles are reconciled before plugins so a plugin's
// OnConfigChange resolves fresh handles.
func (a *App) applyReload(ctx context.Context, cfg *Config, sections []string) {
	a.logs.Apply(logxConfig(cfg))

	a.pprof.Apply(ctx, cfg.Pprof)

	// The store is opened once at boot; driver/path swaps need a restart.
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required to take effect")
		}
	}

	if nCfg, err := notifyConfig(cfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Any("err", err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(nCfg)
		if prev && !nCfg.Enabled {
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prev && nCfg.Enabled {
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if sCfg, err := schedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Any("err", err))
	} else {
		prev := a.sched.Enabled()
		a.sched.Apply(sCfg)
		if prev && !sCfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prev && sCfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	a.servers.Apply(ctx, serverSpecs(cfg, a.log))

	// apply plugin enable/disable + per-plugin config
	a.pm.OnConfigUpdate(ctx, cfg)
	a.log.Debug("plugin states", logx.String("plugins", a.pm.DebugStatus()))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop plugins first (they may depend on services). StopAll is timeout-safe per-plugin.
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })

	// Stop services, then close driver handles they were talking through.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("servers", 3*time.Second, func(c context.Context) error { return a.servers.CloseAll(c) })
	step("pprof", 1*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })

	// Finally, wait for supervised goroutines (config watch/reload, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", logx.Any("err", err))
		}
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// validateStatic rejects configs that cannot be applied. It runs at boot and
// again before committing a hot reload.
func validateStatic(cfg *Config) error {
	if cfg.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	if cfg.Scheduler.RetryMax < 0 {
		return fmt.Errorf("scheduler.retry_max must be >= 0")
	}
	if _, err := parseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Notify != nil {
		if _, err := parseDurationField("notify.dedup_window", cfg.Notify.DedupWindow); err != nil {
			return err
		}
		if cfg.Notify.Enabled && strings.TrimSpace(cfg.Notify.Telegram.Token) != "" && cfg.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.chat_id is required when a token is set")
		}
	}
	if cfg.Storage != nil {
		if _, err := parseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return validateServers(cfg.Servers)
}

func validateServers(entries []ServerConfig) error {
	seen := make(map[string]struct{}, len(entries))
	for i, sc := range entries {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return fmt.Errorf("servers[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("servers[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}

		for _, f := range []struct{ key, raw string }{
			{"interval", sc.Interval},
			{"dial_timeout", sc.DialTimeout},
			{"restart_delay", sc.RestartDelay},
			{"stop_timeout", sc.StopTimeout},
		} {
			if _, err := parseDurationField("servers."+name+"."+f.key, f.raw); err != nil {
				return err
			}
		}

		switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
		case server.DriverSim:
		case server.DriverRCON:
			if strings.TrimSpace(sc.Addr) == "" {
				return fmt.Errorf("servers.%s: addr is required for rcon", name)
			}
		case server.DriverDocker:
			if strings.TrimSpace(sc.Container) == "" {
				return fmt.Errorf("servers.%s: container is required for docker", name)
			}
		case server.DriverSystemd:
			if strings.TrimSpace(sc.Unit) == "" {
				return fmt.Errorf("servers.%s: unit is required for systemd", name)
			}
		case server.DriverLocalProc:
			if len(sc.Command) == 0 {
				return fmt.Errorf("servers.%s: command is required for localproc", name)
			}
		default:
			return fmt.Errorf("servers.%s: unknown driver %q", name, sc.Driver)
		}
	}
	return nil
}

func logxConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func storageConfig(cfg *Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := parseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func schedulerConfig(cfg *Config) (scheduler.Config, error) {
	dt, err := parseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        cfg.Scheduler.Workers,
		DefaultTimeout: dt,
		HistorySize:    cfg.Scheduler.HistorySize,
		Timezone:       cfg.Scheduler.Timezone,
		RetryMax:       cfg.Scheduler.RetryMax,
	}, nil
}

func notifyConfig(cfg *Config) (notify.Config, error) {
	n := derefNotify(cfg.Notify)
	window, err := parseDurationOrDefault("notify.dedup_window", n.DedupWindow, 10*time.Minute)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:     n.Enabled,
		MinPriority: n.MinPriority,
		RatePerSec:  n.RatePerSec,
		DedupWindow: window,
	}, nil
}

// serverSpecs maps config entries to driver wiring. Policy fields (interval,
// restart command) stay behind so policy edits never bounce a live handle.
func serverSpecs(cfg *Config, log logx.Logger) []server.Config {
	out := make([]server.Config, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		spec := server.Config{
			Name:       strings.TrimSpace(sc.Name),
			Driver:     strings.ToLower(strings.TrimSpace(sc.Driver)),
			Addr:       sc.Addr,
			Password:   sc.Password,
			Container:  sc.Container,
			Unit:       sc.Unit,
			Command:    sc.Command,
			Workdir:    sc.Workdir,
			ConfigFile: sc.ConfigFile,
			Settings:   sc.Settings,
		}
		// Durations were validated before commit; errors here only happen for
		// configs loaded outside the validator path.
		var err error
		if spec.DialTimeout, err = parseDurationField("dial_timeout", sc.DialTimeout); err != nil {
			log.Warn("invalid dial_timeout; using driver default", logx.String("server", spec.Name), logx.Any("err", err))
		}
		if spec.RestartDelay, err = parseDurationField("restart_delay", sc.RestartDelay); err != nil {
			log.Warn("invalid restart_delay; using driver default", logx.String("server", spec.Name), logx.Any("err", err))
		}
		if spec.StopTimeout, err = parseDurationField("stop_timeout", sc.StopTimeout); err != nil {
			log.Warn("invalid stop_timeout; using driver default", logx.String("server", spec.Name), logx.Any("err", err))
		}
		out = append(out, spec)
	}
	return out
}
