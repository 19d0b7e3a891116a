// Package rcon drives game servers over the Source RCON protocol. Minecraft,
// Source engine servers, and Rust all speak it.
package rcon

import (
	"context"
	"fmt"
	"strings"
	"time"

	gorcon "github.com/gorcon/rcon"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

const defaultDialTimeout = 5 * time.Second

type Config struct {
	Name        string
	Addr        string // host:port
	Password    string
	DialTimeout time.Duration
}

// Conn is a dial-per-call handle. RCON sessions are cheap and the servers
// warden talks to get restarted under it, so holding a long-lived connection
// only buys stale-socket errors.
type Conn struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Conn {
	return &Conn{cfg: cfg, log: log}
}

func (c *Conn) Name() string { return c.cfg.Name }

func (c *Conn) Close() error { return nil }

// DispatchCommand opens a session, authenticates, and executes command.
func (c *Conn) DispatchCommand(ctx context.Context, command string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("rcon dial %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	resp, err := conn.Execute(command)
	if err != nil {
		return fmt.Errorf("rcon execute %q: %w", command, err)
	}
	if resp = strings.TrimSpace(resp); resp != "" {
		c.log.Debug("rcon response", logx.String("server", c.cfg.Name), logx.String("response", resp))
	}
	return nil
}

// Ping verifies the server accepts an authenticated session.
func (c *Conn) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("rcon dial %s: %w", c.cfg.Addr, err)
	}
	return conn.Close()
}

// dial honors the nearer of the configured dial timeout and the context
// deadline. The library has no context support, so the deadline doubles as
// both connect and i/o bound.
func (c *Conn) dial(ctx context.Context) (*gorcon.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := c.cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < timeout {
			timeout = rem
		}
	}
	return gorcon.Dial(c.cfg.Addr, c.cfg.Password,
		gorcon.SetDialTimeout(timeout),
		gorcon.SetDeadline(timeout),
	)
}
