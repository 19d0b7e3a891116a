package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

// Registry owns the live handles for all configured server entries and
// reconciles them against config on reload.
type Registry struct {
	log logx.Logger

	mu      sync.Mutex
	entries map[string]*regEntry
}

type regEntry struct {
	hash   string
	handle Handle
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log, entries: map[string]*regEntry{}}
}

// Apply reconciles live handles against cfgs: unchanged entries are kept,
// changed ones are reopened, removed ones are closed. A failing open is
// logged and skipped so one unreachable control surface cannot take down
// the rest; the entry is retried on the next Apply.
func (r *Registry) Apply(ctx context.Context, cfgs []Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desired := make(map[string]Config, len(cfgs))
	for _, c := range cfgs {
		if _, dup := desired[c.Name]; dup {
			r.log.Warn("duplicate server entry ignored", logx.String("server", c.Name))
			continue
		}
		desired[c.Name] = c
	}

	// Drop entries that disappeared from config.
	for name, e := range r.entries {
		if _, ok := desired[name]; ok {
			continue
		}
		r.closeEntryLocked(name, e, "removed from config")
	}

	for name, c := range desired {
		h := entryHash(c)
		if e, ok := r.entries[name]; ok {
			if e.hash == h {
				continue
			}
			r.closeEntryLocked(name, e, "config changed")
		}
		handle, err := Open(ctx, c, r.log)
		if err != nil {
			r.log.Warn("server handle open failed",
				logx.String("server", name), logx.String("driver", c.Driver), logx.Any("err", err))
			continue
		}
		r.entries[name] = &regEntry{hash: h, handle: handle}
		r.log.Info("server handle opened",
			logx.String("server", name), logx.String("driver", c.Driver))
	}
}

func (r *Registry) closeEntryLocked(name string, e *regEntry, reason string) {
	if err := e.handle.Close(); err != nil {
		r.log.Warn("server handle close failed", logx.String("server", name), logx.Any("err", err))
	} else {
		r.log.Info("server handle closed", logx.String("server", name), logx.String("reason", reason))
	}
	delete(r.entries, name)
}

// Get returns the live handle for name, if one is open.
func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Handles returns all live handles sorted by server name.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Handle, 0, len(names))
	for _, n := range names {
		out = append(out, r.entries[n].handle)
	}
	return out
}

// CloseAll closes every handle. Close errors are joined, not short-circuited.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, e := range r.entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := e.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.entries = map[string]*regEntry{}
	return errors.Join(errs...)
}

// entryHash fingerprints a config entry for change detection.
func entryHash(c Config) string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("%016x", h.Sum64())
}
