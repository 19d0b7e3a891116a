package core

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

// countingPlugin tracks lifecycle calls; it has no real work.
type countingPlugin struct {
	name   string
	starts atomic.Int32
	stops  atomic.Int32
}

func (p *countingPlugin) Name() string                                   { return p.name }
func (p *countingPlugin) Init(ctx context.Context, deps PluginDeps) error { return nil }
func (p *countingPlugin) Start(ctx context.Context) error                { p.starts.Add(1); return nil }
func (p *countingPlugin) Stop(ctx context.Context) error                 { p.stops.Add(1); return nil }

func pluginsConfig(entries map[string]bool) *Config {
	cfg := &Config{Plugins: map[string]PluginConfigRaw{}}
	for name, enabled := range entries {
		cfg.Plugins[name] = PluginConfigRaw{Enabled: enabled}
	}
	return cfg
}

func TestPluginManagerDebugStatus(t *testing.T) {
	t.Parallel()

	cfgm := NewConfigManager(filepath.Join(t.TempDir(), "warden.yaml"))
	cfgm.Commit(pluginsConfig(map[string]bool{"alpha": true}))

	pm := NewPluginManager(logx.Nop(), cfgm, PluginDeps{Logger: logx.Nop()})
	alpha := &countingPlugin{name: "alpha"}
	beta := &countingPlugin{name: "beta"}
	pm.Register(alpha, beta)

	ctx := context.Background()
	if err := pm.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer pm.StopAll(ctx, StopAppStop)

	if got := pm.DebugStatus(); got != "alpha=running beta=stopped" {
		t.Fatalf("DebugStatus = %q", got)
	}
	if alpha.starts.Load() != 1 || beta.starts.Load() != 0 {
		t.Fatalf("starts = alpha:%d beta:%d", alpha.starts.Load(), beta.starts.Load())
	}

	// Flip the set: beta comes up, alpha goes down; the summary follows.
	pm.OnConfigUpdate(ctx, pluginsConfig(map[string]bool{"alpha": false, "beta": true}))
	if got := pm.DebugStatus(); got != "alpha=stopped beta=running" {
		t.Fatalf("DebugStatus after flip = %q", got)
	}
	if alpha.stops.Load() != 1 || beta.starts.Load() != 1 {
		t.Fatalf("lifecycle = alpha stops:%d beta starts:%d", alpha.stops.Load(), beta.starts.Load())
	}
}
