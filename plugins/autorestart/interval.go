package autorestart

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/r7l-labs/warden/internal/server"
	logx "github.com/r7l-labs/warden/pkg/logx"
)

const (
	// EnvInterval overrides the restart interval process-wide, in whole
	// seconds. Invalid values are ignored.
	EnvInterval = "AUTORESTART_INTERVAL_SECONDS"

	hostKeySeconds = "autorestart_interval_seconds"
	hostKeyHours   = "autorestart_interval_hours"

	defaultInterval = 6 * time.Hour
)

// resolveInterval picks the restart period for one server. Precedence:
// explicit overrides (server entry first, then plugin config), then the
// environment, then the host-exposed config surface, then the 6h default.
//
// The environment and the host config are foreign surfaces: malformed or
// non-positive values there are skipped with a debug log and resolution falls
// through. warden's own overrides are validated before they reach this point.
func resolveInterval(ctx context.Context, h server.Handle, overrides []string, log logx.Logger) time.Duration {
	for _, raw := range overrides {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			log.Debug("ignoring invalid interval override", logx.String("value", raw))
			continue
		}
		return d
	}
	if d, ok := intervalFromEnv(log); ok {
		return d
	}
	if d, ok := intervalFromHost(ctx, h, log); ok {
		return d
	}
	return defaultInterval
}

// intervalFromEnv reads EnvInterval as integer seconds.
func intervalFromEnv(log logx.Logger) (time.Duration, bool) {
	raw, present := os.LookupEnv(EnvInterval)
	if !present || strings.TrimSpace(raw) == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Debug("ignoring malformed env interval", logx.String("var", EnvInterval), logx.String("value", raw))
		return 0, false
	}
	if n <= 0 {
		log.Debug("ignoring non-positive env interval", logx.String("var", EnvInterval), logx.Int("value", n))
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// intervalFromHost consults the handle's config surface, if it has one.
// The seconds key wins over the hours key.
func intervalFromHost(ctx context.Context, h server.Handle, log logx.Logger) (time.Duration, bool) {
	cfgr, ok := h.(server.Configurer)
	if !ok {
		return 0, false
	}
	m, err := cfgr.HostConfig(ctx)
	if err != nil {
		log.Debug("host config unavailable", logx.String("server", h.Name()), logx.Any("err", err))
		return 0, false
	}
	if v, present := m[hostKeySeconds]; present {
		if d, ok := coerceSeconds(v, 1); ok {
			return d, true
		}
		log.Debug("ignoring malformed host interval", logx.String("server", h.Name()), logx.String("key", hostKeySeconds), logx.Any("value", v))
	}
	if v, present := m[hostKeyHours]; present {
		if d, ok := coerceSeconds(v, 3600); ok {
			return d, true
		}
		log.Debug("ignoring malformed host interval", logx.String("server", h.Name()), logx.String("key", hostKeyHours), logx.Any("value", v))
	}
	return 0, false
}

// coerceSeconds converts a host-config scalar into a whole-second duration,
// scaled (1 for a seconds key, 3600 for an hours key). YAML and JSON decoders
// hand back different numeric shapes for the same document, so every scalar
// kind is accepted. Non-positive results are rejected.
func coerceSeconds(v any, scale float64) (time.Duration, bool) {
	var f float64
	switch x := v.(type) {
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	secs := f * scale
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, false
	}
	return time.Duration(math.Round(secs)) * time.Second, true
}
