package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigManagerLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "warden.yaml", `logging:
  level: debug
  console: true
scheduler:
  enabled: true
  workers: 4
  default_timeout: 30s
storage:
  driver: file
  path: ./warden.store
servers:
  - name: lobby
    driver: sim
    interval: 2h
    settings:
      autorestart_interval_seconds: 7200
plugins:
  autorestart:
    enabled: true
    config:
      command: restart
`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Workers != 4 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].Name != "lobby" || cfg.Servers[0].Interval != "2h" {
		t.Fatalf("servers = %+v", cfg.Servers)
	}
	// YAML integers must survive the JSON round-trip as numbers.
	if v, ok := cfg.Servers[0].Settings["autorestart_interval_seconds"]; !ok {
		t.Fatal("settings key lost")
	} else if _, isStr := v.(string); isStr {
		t.Fatalf("settings value decoded as string: %v", v)
	}
	p, ok := cfg.Plugins["autorestart"]
	if !ok || !p.Enabled || len(p.Config) == 0 {
		t.Fatalf("plugins = %+v", cfg.Plugins)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestConfigManagerRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"top_level": `logging: {level: info}
scheduler: {enabled: true}
serverz: []
`,
		"plugin_entry": `logging: {level: info}
scheduler: {enabled: true}
plugins:
  autorestart:
    enabled: true
    confg: {}
`,
	}
	for name, content := range cases {
		name, content := name, content
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeConfig(t, "warden.yaml", content))
			if _, err := m.Load(); err == nil {
				t.Fatal("expected unknown field to be rejected")
			}
		})
	}
}

func TestConfigManagerRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeConfig(t, "warden.json", `{"logging":{"level":"info"},"scheduler":{"enabled":true},"servers":[],"plugins":{}}{"extra":1}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
}

func TestValidateStatic(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Enabled: true, Workers: 2, DefaultTimeout: "30s"},
			Servers:   []ServerConfig{{Name: "lobby", Driver: "sim"}},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"negative workers", func(c *Config) { c.Scheduler.Workers = -1 }, "workers"},
		{"bad default timeout", func(c *Config) { c.Scheduler.DefaultTimeout = "soon" }, "default_timeout"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "timezone"},
		{"unnamed server", func(c *Config) { c.Servers[0].Name = "" }, "name is required"},
		{"duplicate server", func(c *Config) {
			c.Servers = append(c.Servers, ServerConfig{Name: "lobby", Driver: "sim"})
		}, "duplicate"},
		{"unknown driver", func(c *Config) { c.Servers[0].Driver = "teleport" }, "unknown driver"},
		{"bad server interval", func(c *Config) { c.Servers[0].Interval = "not-a-duration" }, "interval"},
		{"rcon without addr", func(c *Config) { c.Servers[0].Driver = "rcon" }, "addr is required"},
		{"docker without container", func(c *Config) { c.Servers[0].Driver = "docker" }, "container is required"},
		{"systemd without unit", func(c *Config) { c.Servers[0].Driver = "systemd" }, "unit is required"},
		{"localproc without command", func(c *Config) { c.Servers[0].Driver = "localproc" }, "command is required"},
		{"notify token without chat", func(c *Config) {
			c.Notify = &NotifyConfig{Enabled: true, Telegram: TelegramNotifyConfig{Token: "123:abc"}}
		}, "chat_id"},
		{"bad dedup window", func(c *Config) {
			c.Notify = &NotifyConfig{DedupWindow: "eventually"}
		}, "dedup_window"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			err := validateStatic(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("validateStatic: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{Enabled: true, Workers: 2},
		Servers:   []ServerConfig{{Name: "lobby", Driver: "sim"}},
		Plugins: map[string]PluginConfigRaw{
			"autorestart": {Enabled: true},
		},
	}
	newCfg := &Config{
		Logging:   LoggingConfig{Level: "debug", Console: true},
		Scheduler: SchedulerConfig{Enabled: true, Workers: 2},
		Servers: []ServerConfig{
			{Name: "lobby", Driver: "sim", Interval: "1h"},
			{Name: "survival", Driver: "sim"},
		},
		Plugins: map[string]PluginConfigRaw{
			"autorestart": {Enabled: true, Config: json.RawMessage(`{"command":"stop"}`)},
			"heartbeat":   {Enabled: true},
		},
	}

	sections, _, plugins, servers := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"logging", "plugins", "servers"}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Fatalf("sections = %v, want %v", sections, want)
		}
	}
	if len(plugins) != 2 { // autorestart config changed, heartbeat added
		t.Fatalf("changed plugins = %v", plugins)
	}
	if len(servers) != 2 { // lobby changed, survival added
		t.Fatalf("changed servers = %v", servers)
	}

	// Identical configs report no changes.
	sections, _, plugins, servers = SummarizeConfigChange(newCfg, newCfg)
	if len(sections) != 0 || len(plugins) != 0 || len(servers) != 0 {
		t.Fatalf("no-op diff reported changes: %v %v %v", sections, plugins, servers)
	}
}

func TestConfigManagerSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "warden.yaml"))
	ch := m.Subscribe(1)

	cfg := &Config{Scheduler: SchedulerConfig{Enabled: true}}
	m.Commit(cfg)
	m.publish(cfg)

	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("subscriber received a different config pointer")
		}
	default:
		t.Fatal("publish did not reach the subscriber")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed by Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(cfg)
}
