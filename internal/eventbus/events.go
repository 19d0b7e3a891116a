package eventbus

import "time"

// Well-known event types published on the bus.
const (
	// TypeRestartAttempt carries a RestartAttempt payload. Published once
	// per restart invocation, after the run completed (success or not).
	TypeRestartAttempt = "restart.attempt"

	// TypeServerUp / TypeServerDown carry a ServerHealth payload. Published
	// on health state transitions only, not on every probe.
	TypeServerUp   = "server.up"
	TypeServerDown = "server.down"
)

// RestartAttempt describes one finished restart invocation against a server.
type RestartAttempt struct {
	Server     string        `json:"server"`
	Outcome    string        `json:"outcome"` // "success" or "exhausted"
	Capability string        `json:"capability,omitempty"`
	Command    string        `json:"command,omitempty"`
	Err        string        `json:"err,omitempty"`
	Took       time.Duration `json:"took"`
}

// ServerHealth describes a health state transition observed by a probe.
type ServerHealth struct {
	Server string `json:"server"`
	Err    string `json:"err,omitempty"`
}
