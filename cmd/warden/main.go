package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r7l-labs/warden/internal/core"
	"github.com/r7l-labs/warden/plugins/autorestart"
	"github.com/r7l-labs/warden/plugins/heartbeat"
)

func main() {
	var (
		cfgPath string
		demo    bool
	)
	flag.StringVar(&cfgPath, "config", "./warden.yaml", "path to config yaml")
	flag.BoolVar(&demo, "demo", false, "run a self-contained demo against a simulated server and exit")
	flag.Parse()

	if demo {
		os.Exit(runDemo())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := core.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// Register plugins (adding one is New() + Register)
	app.Plugins().Register(
		autorestart.New(),
		heartbeat.New(),
	)

	if err := app.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-app.Done()

	reason := core.StopSIGTERM
	if err := app.Err(); err != nil && ctx.Err() == nil {
		reason = core.StopFatalError
		fmt.Println("fatal:", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = app.Stop(stopCtx, reason)

	if reason == core.StopFatalError {
		os.Exit(1)
	}
}
