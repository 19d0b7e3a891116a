package core

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens
// or rcon passwords), (3) plugin names that changed (enable/config), and
// (4) server names whose driver wiring changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.Alerts.Enabled != newCfg.Logging.Alerts.Enabled ||
		oldCfg.Logging.Alerts.MinLevel != newCfg.Logging.Alerts.MinLevel ||
		oldCfg.Logging.Alerts.RatePerSec != newCfg.Logging.Alerts.RatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	// Pprof
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.address", strings.TrimSpace(newCfg.Pprof.Address)),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.default_timeout", strings.TrimSpace(newCfg.Scheduler.DefaultTimeout)),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.retry_max", newCfg.Scheduler.RetryMax),
		)
	}

	// Notify (never log token)
	oldN := derefNotify(oldCfg.Notify)
	newN := derefNotify(newCfg.Notify)
	if oldN.Enabled != newN.Enabled ||
		(strings.TrimSpace(oldN.Telegram.Token) != "") != (strings.TrimSpace(newN.Telegram.Token) != "") ||
		oldN.Telegram.ChatID != newN.Telegram.ChatID ||
		oldN.Telegram.ThreadID != newN.Telegram.ThreadID ||
		oldN.MinPriority != newN.MinPriority ||
		oldN.RatePerSec != newN.RatePerSec ||
		strings.TrimSpace(oldN.DedupWindow) != strings.TrimSpace(newN.DedupWindow) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newN.Enabled),
			logx.Bool("notify.token_set", strings.TrimSpace(newN.Telegram.Token) != ""),
			logx.Bool("notify.chat_set", newN.Telegram.ChatID != 0),
			logx.Int("notify.min_priority", newN.MinPriority),
			logx.String("notify.dedup_window", strings.TrimSpace(newN.DedupWindow)),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Servers (summarize only; passwords never logged)
	serverChanged := diffServers(oldCfg.Servers, newCfg.Servers)
	if len(serverChanged) > 0 {
		changed = append(changed, "servers")
		attrs = append(attrs,
			logx.Int("servers.changed_count", len(serverChanged)),
			logx.Int("servers.count", len(newCfg.Servers)),
		)
	}

	// Plugins (summarize only; details at debug)
	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged, serverChanged
}

func derefNotify(n *NotifyConfig) NotifyConfig {
	if n == nil {
		return NotifyConfig{}
	}
	return *n
}

func countEnabled(m map[string]PluginConfigRaw) int {
	if len(m) == 0 {
		return 0
	}
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	if oldM == nil {
		oldM = map[string]PluginConfigRaw{}
	}
	if newM == nil {
		newM = map[string]PluginConfigRaw{}
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o := oldM[name]
		n := newM[name]
		if o.Enabled != n.Enabled {
			out = append(out, name)
			continue
		}
		if canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config) {
			out = append(out, name)
			continue
		}
	}
	sort.Strings(out)
	return out
}

// diffServers reports server names that were added, removed, or whose entry
// changed in any field.
func diffServers(oldS, newS []ServerConfig) []string {
	oldByName := make(map[string]ServerConfig, len(oldS))
	for _, s := range oldS {
		oldByName[s.Name] = s
	}
	newByName := make(map[string]ServerConfig, len(newS))
	for _, s := range newS {
		newByName[s.Name] = s
	}

	set := map[string]struct{}{}
	for k := range oldByName {
		set[k] = struct{}{}
	}
	for k := range newByName {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldByName[name]
		n, nOK := newByName[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
