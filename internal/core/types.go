package core

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`

	Notify  *NotifyConfig  `json:"notify,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`

	// Servers lists the game servers warden manages. Each entry wires one
	// driver-backed handle; plugins decide what to do with the handles.
	Servers []ServerConfig `json:"servers"`

	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards log records at or above MinLevel to the alert
// transport, rate-limited. Requires notify.telegram to be configured.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers"`
	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout"`
	HistorySize    int    `json:"history_size"`
	Timezone       string `json:"timezone,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// NotifyConfig controls the alert pipeline. When the section is omitted or
// disabled, every notification degrades to a log line.
type NotifyConfig struct {
	Enabled     bool                 `json:"enabled"`
	Telegram    TelegramNotifyConfig `json:"telegram"`
	MinPriority int                  `json:"min_priority,omitempty"`
	RatePerSec  int                  `json:"rate_per_sec,omitempty"`
	// DedupWindow suppresses repeats of the same alert key within the
	// window. Go duration string; empty means "10m".
	DedupWindow string `json:"dedup_window,omitempty"`
}

type TelegramNotifyConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// StorageConfig controls the persistence layer (restart attempt audit and
// notification dedup state). Driver "" or "none" disables persistence.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string, sqlite only
}

type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Address              string `json:"address"`
	BlockProfileRate     int    `json:"block_profile_rate"`
	MutexProfileFraction int    `json:"mutex_profile_fraction"`
}

// ServerConfig describes one managed game server.
//
// Driver is one of "sim", "rcon", "docker", "localproc", "systemd". The
// remaining fields are driver-specific.
type ServerConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`

	// Interval overrides the restart interval for this server (Go duration
	// string). Empty means resolve from environment, then host config,
	// then the built-in default.
	Interval string `json:"interval,omitempty"`
	// RestartCommand overrides the command string sent to command-style
	// restart capabilities for this server.
	RestartCommand string `json:"restart_command,omitempty"`

	// rcon
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"` // Go duration string

	// docker
	Container string `json:"container,omitempty"`

	// systemd
	Unit string `json:"unit,omitempty"`

	// localproc
	Command      []string `json:"command,omitempty"`
	Workdir      string   `json:"workdir,omitempty"`
	ConfigFile   string   `json:"config_file,omitempty"`
	RestartDelay string   `json:"restart_delay,omitempty"` // Go duration string

	// StopTimeout bounds graceful stop before escalation (docker stop
	// timeout, localproc SIGTERM grace). Go duration string.
	StopTimeout string `json:"stop_timeout,omitempty"`

	// Settings is the host-side configuration surface exposed to plugins
	// through the handle. The sim driver serves it directly; localproc
	// prefers config_file when set.
	Settings map[string]any `json:"settings,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields to ensure removed legacy keys
// are caught early during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
