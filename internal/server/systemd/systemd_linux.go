//go:build linux

package systemd

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

// Unit holds a system D-Bus connection to the systemd manager.
type Unit struct {
	cfg  Config
	log  logx.Logger
	conn *dbus.Conn
	unit string
}

func Connect(ctx context.Context, cfg Config, log logx.Logger) (*Unit, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	unit := strings.TrimSpace(cfg.Unit)
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	return &Unit{cfg: cfg, log: log, conn: conn, unit: unit}, nil
}

func (u *Unit) Name() string { return u.cfg.Name }

func (u *Unit) Close() error {
	u.conn.Close()
	return nil
}

// Stop enqueues a stop job for the unit. Bringing the server back is the
// unit file's job (Restart=).
func (u *Unit) Stop(ctx context.Context) error {
	if u.cfg.StopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.StopTimeout)
		defer cancel()
	}
	if _, err := u.conn.StopUnitContext(ctx, u.unit, "replace", nil); err != nil {
		return fmt.Errorf("failed to stop %s: %w", u.unit, err)
	}
	u.log.Debug("stop job enqueued", logx.String("server", u.cfg.Name), logx.String("unit", u.unit))
	return nil
}

func (u *Unit) Ping(ctx context.Context) error {
	props, err := u.conn.GetUnitPropertiesContext(ctx, u.unit)
	if err != nil {
		return fmt.Errorf("unit properties %s: %w", u.unit, err)
	}
	state, _ := props["ActiveState"].(string)
	if state != "active" {
		return fmt.Errorf("unit %s is %s", u.unit, state)
	}
	return nil
}
