package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Attempt outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
)

// Attempt records one restart invocation against one server.
// Keep it compact and schema-stable.
type Attempt struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Server     string    `json:"server"`
	Outcome    string    `json:"outcome"`
	Capability string    `json:"capability,omitempty"` // candidate that succeeded
	Command    string    `json:"command,omitempty"`
	Error      string    `json:"error,omitempty"` // accumulated candidate failures
	TookMS     int64     `json:"took_ms"`
}
