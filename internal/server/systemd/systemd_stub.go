//go:build !linux

package systemd

import (
	"context"
	"errors"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

type Unit struct {
	cfg Config
}

func Connect(ctx context.Context, cfg Config, log logx.Logger) (*Unit, error) {
	return nil, ErrUnsupported
}

func (u *Unit) Name() string { return u.cfg.Name }

func (u *Unit) Close() error { return nil }

func (u *Unit) Stop(ctx context.Context) error { return ErrUnsupported }

func (u *Unit) Ping(ctx context.Context) error { return ErrUnsupported }
