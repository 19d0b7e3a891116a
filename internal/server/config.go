package server

import "time"

// Known driver names. Validation of config entries happens at app level;
// Open rejects anything else as a backstop.
const (
	DriverSim       = "sim"
	DriverRCON      = "rcon"
	DriverDocker    = "docker"
	DriverLocalProc = "localproc"
	DriverSystemd   = "systemd"
)

// Config wires one server handle. Only driver-relevant fields are consulted;
// restart policy (interval overrides, command) lives with the plugin that
// schedules restarts, so policy edits never bounce a live handle.
//
// JSON tags exist for change detection: the registry hashes the marshaled
// entry to decide whether a handle must be reopened on config reload.
type Config struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`

	// rcon
	Addr        string        `json:"addr,omitempty"`
	Password    string        `json:"password,omitempty"`
	DialTimeout time.Duration `json:"dial_timeout,omitempty"`

	// docker
	Container string `json:"container,omitempty"`

	// systemd
	Unit string `json:"unit,omitempty"`

	// localproc
	Command      []string      `json:"command,omitempty"`
	Workdir      string        `json:"workdir,omitempty"`
	ConfigFile   string        `json:"config_file,omitempty"`
	RestartDelay time.Duration `json:"restart_delay,omitempty"`

	// sim: the in-memory host-config mapping the handle serves back.
	Settings map[string]any `json:"settings,omitempty"`

	// StopTimeout bounds stop/shutdown style operations (docker stop grace,
	// localproc SIGTERM grace). Zero means driver default.
	StopTimeout time.Duration `json:"stop_timeout,omitempty"`
}
