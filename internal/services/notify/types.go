package notify

import (
	"context"
	"time"
)

// Sender delivers one rendered notification to the configured destination.
// Implementations must be safe for concurrent use. The telegram adapter is
// the only production implementation; tests use in-package fakes.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Notification is one alert to deliver.
type Notification struct {
	// Priority selects the visual prefix and lets MinPriority filter noise.
	// Convention: >=8 critical, >=5 warning, else informational.
	Priority int
	Text     string

	// DedupKey suppresses repeats of the same condition. Empty means the
	// key is derived from priority+text.
	DedupKey string
	// DedupFor overrides the configured dedup window for this notification.
	DedupFor time.Duration
}

// Config tunes the pipeline. Zero values get sensible defaults in Apply.
type Config struct {
	Enabled         bool
	MinPriority     int
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// HistoryItem is a sent notification kept for status introspection.
type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is the payload of notify.* events on the bus.
type NotificationEvent struct {
	Key      string    `json:"key,omitempty"`
	Priority int       `json:"priority"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
