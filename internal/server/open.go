package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/r7l-labs/warden/internal/server/docker"
	"github.com/r7l-labs/warden/internal/server/localproc"
	"github.com/r7l-labs/warden/internal/server/rcon"
	"github.com/r7l-labs/warden/internal/server/sim"
	"github.com/r7l-labs/warden/internal/server/systemd"
	logx "github.com/r7l-labs/warden/pkg/logx"
)

// Compile-time checks that each driver exposes the capabilities the table in
// the package docs promises.
var (
	_ Handle            = (*sim.Server)(nil)
	_ CommandDispatcher = (*sim.Server)(nil)
	_ Configurer        = (*sim.Server)(nil)
	_ Pinger            = (*sim.Server)(nil)

	_ Handle            = (*rcon.Conn)(nil)
	_ CommandDispatcher = (*rcon.Conn)(nil)
	_ Pinger            = (*rcon.Conn)(nil)

	_ Handle          = (*docker.Container)(nil)
	_ CommandExecutor = (*docker.Container)(nil)
	_ Stopper         = (*docker.Container)(nil)
	_ Pinger          = (*docker.Container)(nil)

	_ Handle           = (*localproc.Proc)(nil)
	_ ConsoleCommander = (*localproc.Proc)(nil)
	_ Shutdowner       = (*localproc.Proc)(nil)
	_ Configurer       = (*localproc.Proc)(nil)
	_ Pinger           = (*localproc.Proc)(nil)

	_ Handle  = (*systemd.Unit)(nil)
	_ Stopper = (*systemd.Unit)(nil)
	_ Pinger  = (*systemd.Unit)(nil)
)

// Open builds a handle for one server entry.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Handle, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("server name required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSim:
		return sim.New(cfg.Name, log, sim.WithHostConfig(cfg.Settings)), nil
	case DriverRCON:
		return rcon.New(rcon.Config{
			Name:        cfg.Name,
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DialTimeout: cfg.DialTimeout,
		}, log), nil
	case DriverDocker:
		return docker.New(ctx, docker.Config{
			Name:        cfg.Name,
			Container:   cfg.Container,
			StopTimeout: cfg.StopTimeout,
		}, log)
	case DriverLocalProc:
		return localproc.Start(ctx, localproc.Config{
			Name:         cfg.Name,
			Command:      cfg.Command,
			Workdir:      cfg.Workdir,
			ConfigFile:   cfg.ConfigFile,
			RestartDelay: cfg.RestartDelay,
			StopTimeout:  cfg.StopTimeout,
		}, log)
	case DriverSystemd:
		return systemd.Connect(ctx, systemd.Config{
			Name:        cfg.Name,
			Unit:        cfg.Unit,
			StopTimeout: cfg.StopTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown server driver: %q", cfg.Driver)
	}
}
