// Package localproc runs a game server as a child process that warden owns.
// The driver keeps the server up: when the child exits, for any reason, it is
// respawned after a short delay. Shutdown therefore behaves like a restart,
// which is exactly the contract restart capabilities assume.
package localproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.yaml.in/yaml/v3"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

const (
	defaultRestartDelay = 2 * time.Second
	defaultStopGrace    = 10 * time.Second
)

type Config struct {
	Name    string
	Command []string // argv, Command[0] is the binary
	Workdir string
	// ConfigFile optionally names a YAML file (relative to Workdir) exposed
	// through the host-config surface.
	ConfigFile string
	// RestartDelay is the pause before a dead child is respawned.
	RestartDelay time.Duration
	// StopTimeout is the SIGTERM grace before SIGKILL.
	StopTimeout time.Duration
}

type Proc struct {
	cfg    Config
	log    logx.Logger
	stopCh chan struct{}

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stopping bool
}

// Start spawns the child and begins supervising it.
func Start(ctx context.Context, cfg Config, log logx.Logger) (*Proc, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("localproc: command required")
	}
	p := &Proc{cfg: cfg, log: log, stopCh: make(chan struct{})}
	p.mu.Lock()
	err := p.spawnLocked()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	go p.supervise()
	return p, nil
}

func (p *Proc) Name() string { return p.cfg.Name }

// spawnLocked starts a fresh child. Call with p.mu held.
func (p *Proc) spawnLocked() error {
	cmd := exec.Command(p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = p.cfg.Workdir
	// Child output is not warden's to interpret; nil sends it to /dev/null.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("localproc stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("localproc start %q: %w", p.cfg.Command[0], err)
	}
	p.cmd = cmd
	p.stdin = stdin
	p.log.Info("server process started",
		logx.String("server", p.cfg.Name),
		logx.String("bin", p.cfg.Command[0]),
		logx.Int("pid", cmd.Process.Pid))
	return nil
}

// supervise waits on the current child and respawns it until Close.
func (p *Proc) supervise() {
	for {
		p.mu.Lock()
		cmd := p.cmd
		p.mu.Unlock()
		if cmd == nil {
			return
		}

		waitErr := cmd.Wait()

		p.mu.Lock()
		stopping := p.stopping
		p.mu.Unlock()
		if stopping {
			return
		}

		delay := p.cfg.RestartDelay
		if delay <= 0 {
			delay = defaultRestartDelay
		}
		p.log.Warn("server process exited; respawning",
			logx.String("server", p.cfg.Name),
			logx.Any("err", waitErr),
			logx.Duration("delay", delay))

		// Respawn, retrying until it sticks. A transiently missing binary or
		// busy port must not permanently orphan the entry.
		for {
			select {
			case <-p.stopCh:
				return
			case <-time.After(delay):
			}

			p.mu.Lock()
			if p.stopping {
				p.mu.Unlock()
				return
			}
			err := p.spawnLocked()
			p.mu.Unlock()
			if err == nil {
				break
			}
			p.log.Error("server respawn failed", logx.String("server", p.cfg.Name), logx.Any("err", err))
		}
	}
}

// ConsoleCommand writes the command to the child's stdin.
func (p *Proc) ConsoleCommand(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		return errors.New("localproc: no running process")
	}
	if _, err := io.WriteString(stdin, command+"\n"); err != nil {
		return fmt.Errorf("localproc write console command: %w", err)
	}
	return nil
}

// Shutdown terminates the child gracefully (SIGTERM, grace, SIGKILL). The
// supervisor respawns it afterwards, so to the caller this is a restart.
func (p *Proc) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errors.New("localproc: no running process")
	}
	return p.terminate(ctx, cmd.Process)
}

func (p *Proc) terminate(ctx context.Context, proc *os.Process) error {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone counts as stopped.
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("localproc signal: %w", err)
	}
	grace := p.cfg.StopTimeout
	if grace <= 0 {
		grace = defaultStopGrace
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		// Signal 0 probes liveness; Wait stays with the supervisor.
		if proc.Signal(syscall.Signal(0)) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	p.log.Warn("server process ignored SIGTERM; killing",
		logx.String("server", p.cfg.Name), logx.Duration("grace", grace))
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("localproc kill: %w", err)
	}
	return nil
}

// HostConfig reads the configured settings file as a generic mapping.
func (p *Proc) HostConfig(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := p.cfg.ConfigFile
	if path == "" {
		return nil, errors.New("localproc: no config_file configured")
	}
	if !filepath.IsAbs(path) && p.cfg.Workdir != "" {
		path = filepath.Join(p.cfg.Workdir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("localproc read %s: %w", path, err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("localproc parse %s: %w", path, err)
	}
	return m, nil
}

// Ping reports whether the child is currently alive.
func (p *Proc) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	cmd := p.cmd
	stopping := p.stopping
	p.mu.Unlock()
	if stopping || cmd == nil || cmd.Process == nil {
		return errors.New("localproc: process not running")
	}
	if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return fmt.Errorf("localproc: process not running: %w", err)
	}
	return nil
}

// Close stops supervision and terminates the child for good.
func (p *Proc) Close() error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	close(p.stopCh)
	cmd := p.cmd
	stdin := p.stdin
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultStopGrace+5*time.Second)
	defer cancel()
	return p.terminate(ctx, cmd.Process)
}
