package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/r7l-labs/warden/internal/core"
	"github.com/r7l-labs/warden/internal/eventbus"
	"github.com/r7l-labs/warden/internal/server/sim"
	"github.com/r7l-labs/warden/internal/storage"
	"github.com/r7l-labs/warden/plugins/autorestart"
	"github.com/r7l-labs/warden/plugins/heartbeat"
)

const demoConfig = `logging:
  level: info
  console: true
scheduler:
  enabled: true
  workers: 2
  default_timeout: 30s
storage:
  driver: file
  path: %s
servers:
  - name: demo
    driver: sim
    interval: 2s
plugins:
  autorestart:
    enabled: true
  heartbeat:
    enabled: true
`

// runDemo boots the full stack against a simulated server with a 2s restart
// interval, waits for the first dispatched restart, and reports what the
// server received.
func runDemo() int {
	dir, err := os.MkdirTemp("", "warden-demo-*")
	if err != nil {
		fmt.Println("demo: temp dir:", err)
		return 1
	}
	defer os.RemoveAll(dir)

	cfgPath := filepath.Join(dir, "warden.yaml")
	cfg := fmt.Sprintf(demoConfig, filepath.Join(dir, "warden.store"))
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		fmt.Println("demo: write config:", err)
		return 1
	}

	app, err := core.NewApp(cfgPath)
	if err != nil {
		fmt.Println("demo: init:", err)
		return 1
	}
	app.Plugins().Register(
		autorestart.New(),
		heartbeat.New(),
	)

	ch, unsub := app.Bus().Subscribe(32)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		fmt.Println("demo: start:", err)
		return 1
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx, core.StopAppStop)
	}()

	fmt.Println("demo: waiting for the scheduled restart (interval 2s)")

	deadline := time.After(15 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type != eventbus.TypeRestartAttempt {
				continue
			}
			ra, ok := e.Data.(eventbus.RestartAttempt)
			if !ok || ra.Outcome != storage.OutcomeSuccess {
				continue
			}
			fmt.Printf("demo: restart dispatched to %q via %s in %s\n", ra.Server, ra.Capability, ra.Took.Round(time.Millisecond))
			printReceived(app, ra.Server)
			return 0
		case <-deadline:
			fmt.Println("demo: no restart observed within 15s")
			return 1
		}
	}
}

func printReceived(app *core.App, name string) {
	h, ok := app.Servers().Get(name)
	if !ok {
		fmt.Printf("demo: no handle for %q\n", name)
		return
	}
	s, ok := h.(*sim.Server)
	if !ok {
		return
	}
	fmt.Printf("demo: server %q received commands %v\n", name, s.Received())
}
