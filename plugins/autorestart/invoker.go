package autorestart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/r7l-labs/warden/internal/eventbus"
	"github.com/r7l-labs/warden/internal/server"
	"github.com/r7l-labs/warden/internal/services/notify"
	"github.com/r7l-labs/warden/internal/storage"
	logx "github.com/r7l-labs/warden/pkg/logx"
)

// invoker runs one restart pass against a candidate snapshot taken at
// activation. One invoker exists per scheduled server; run() is never called
// concurrently for the same server (the schedule skips overlapping firings).
type invoker struct {
	server  string
	command string
	// timeout bounds each candidate call, not the whole pass.
	timeout time.Duration
	cands   []server.Candidate

	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus
	notif *notify.Service
}

// run probes the candidates in order until one succeeds. A missing capability
// was already filtered out of the snapshot; a failing one is logged and the
// next is tried. Exhaustion is audited and alerted but never returned as an
// error: the schedule must keep firing.
func (iv *invoker) run(ctx context.Context) {
	start := time.Now()
	var failures []string

	for _, c := range iv.cands {
		err := iv.invoke(ctx, c)
		if err == nil {
			took := time.Since(start)
			iv.log.Info("restart dispatched",
				logx.String("server", iv.server),
				logx.String("capability", c.Name),
				logx.Int("failed_before", len(failures)),
				logx.Duration("took", took),
			)
			cmd := ""
			if c.Command {
				cmd = iv.command
			}
			iv.audit(ctx, storage.OutcomeSuccess, c.Name, cmd, strings.Join(failures, "; "), took)
			return
		}
		failures = append(failures, c.Name+": "+err.Error())
		iv.log.Warn("restart candidate failed",
			logx.String("server", iv.server),
			logx.String("capability", c.Name),
			logx.Any("err", err),
		)
	}

	took := time.Since(start)
	errText := "no restart capability available"
	if len(failures) > 0 {
		errText = strings.Join(failures, "; ")
	}
	iv.log.Warn("restart exhausted all candidates",
		logx.String("server", iv.server),
		logx.Int("tried", len(iv.cands)),
		logx.String("err", errText),
	)
	iv.audit(ctx, storage.OutcomeExhausted, "", iv.command, errText, took)

	if iv.notif != nil {
		_ = iv.notif.Notify(ctx, notify.Notification{
			Priority: 8,
			Text:     "autorestart: could not restart " + iv.server + ": " + errText,
			DedupKey: "autorestart:exhausted:" + iv.server,
		})
	}
}

// invoke runs one candidate call under the per-call deadline. The deadline
// holds even when the surface ignores its context: an overrunning call is
// abandoned to its goroutine (it touches no invoker state) and reported as a
// timeout so the pass can move to the next candidate.
func (iv *invoker) invoke(ctx context.Context, c server.Candidate) error {
	actx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Invoke(actx, iv.command) }()
	select {
	case err := <-done:
		return err
	case <-actx.Done():
		return fmt.Errorf("call exceeded %s: %w", iv.timeout, actx.Err())
	}
}

// audit publishes the attempt on the bus and appends it to the store.
// Both are best-effort; the restart outcome stands regardless.
func (iv *invoker) audit(ctx context.Context, outcome, capability, command, errText string, took time.Duration) {
	now := time.Now()
	if iv.bus != nil {
		iv.bus.Publish(eventbus.Event{Type: eventbus.TypeRestartAttempt, Time: now, Data: eventbus.RestartAttempt{
			Server:     iv.server,
			Outcome:    outcome,
			Capability: capability,
			Command:    command,
			Err:        errText,
			Took:       took,
		}})
	}
	if iv.store == nil {
		return
	}
	// Detached from ctx: a canceled tick still gets its audit row.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := iv.store.AppendAttempt(sctx, storage.Attempt{
		ID:         uuid.NewString(),
		At:         now.UTC(),
		Server:     iv.server,
		Outcome:    outcome,
		Capability: capability,
		Command:    command,
		Error:      errText,
		TookMS:     took.Milliseconds(),
	})
	if err != nil {
		iv.log.Debug("attempt audit failed", logx.String("server", iv.server), logx.Any("err", err))
	}
}
