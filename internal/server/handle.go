// Package server defines the handle a managed game server is controlled
// through and the optional capabilities a handle may expose.
//
// A Handle is deliberately opaque: warden never assumes a particular control
// surface. Callers probe for capabilities with interface assertions, or use
// Candidates to get the fixed restart trial order resolved once up front.
// Concrete drivers live in subpackages (sim, rcon, docker, localproc,
// systemd) and implement whatever honest subset their transport supports.
package server

import "context"

// Handle is an opaque reference to one managed server. Close releases any
// local resources the driver holds (connections, child processes); it does
// not promise anything about the server itself.
type Handle interface {
	Name() string
	Close() error
}

// Command-style restart capabilities. Each takes the restart command string;
// drivers differ only in how the command reaches the server.
type (
	// CommandDispatcher submits a command through the server's dispatch API.
	CommandDispatcher interface {
		DispatchCommand(ctx context.Context, command string) error
	}
	// CommandExecutor executes a command on the server's control channel.
	CommandExecutor interface {
		ExecuteCommand(ctx context.Context, command string) error
	}
	// ConsoleCommander writes a command to the server console.
	ConsoleCommander interface {
		ConsoleCommand(ctx context.Context, command string) error
	}
	// CommandRunner runs a command by name.
	CommandRunner interface {
		RunCommand(ctx context.Context, command string) error
	}
)

// Shutdowner asks the server to shut down. The hosting environment is
// expected to bring it back up.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Stopper stops the server. Like Shutdowner, restart is the host's job.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Configurer exposes the server's own configuration as a generic mapping.
// Values come from a foreign surface (a settings file, an admin API) so
// callers must tolerate any scalar shape and treat lookup failures as
// "not configured".
type Configurer interface {
	HostConfig(ctx context.Context) (map[string]any, error)
}

// Pinger reports whether the server looks alive right now.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Candidate is one entry in the restart trial order. Name is the stable
// identifier used in logs and audit records.
type Candidate struct {
	Name string
	// Command reports whether Invoke consumes the restart command string.
	Command bool

	call func(ctx context.Context, command string) error
}

// Invoke runs the candidate. Candidates with Command == false ignore the
// command argument.
func (c Candidate) Invoke(ctx context.Context, command string) error {
	return c.call(ctx, command)
}

// Candidates resolves the restart capabilities of h in the fixed trial
// order: dispatch_command, execute_command, console_command, run_command,
// shutdown, stop. Capabilities the handle does not implement are absent
// from the result. The slice is resolved once; callers should snapshot it
// at activation rather than re-probing per tick.
func Candidates(h Handle) []Candidate {
	var out []Candidate
	if d, ok := h.(CommandDispatcher); ok {
		out = append(out, Candidate{Name: "dispatch_command", Command: true, call: func(ctx context.Context, cmd string) error {
			return d.DispatchCommand(ctx, cmd)
		}})
	}
	if e, ok := h.(CommandExecutor); ok {
		out = append(out, Candidate{Name: "execute_command", Command: true, call: func(ctx context.Context, cmd string) error {
			return e.ExecuteCommand(ctx, cmd)
		}})
	}
	if c, ok := h.(ConsoleCommander); ok {
		out = append(out, Candidate{Name: "console_command", Command: true, call: func(ctx context.Context, cmd string) error {
			return c.ConsoleCommand(ctx, cmd)
		}})
	}
	if r, ok := h.(CommandRunner); ok {
		out = append(out, Candidate{Name: "run_command", Command: true, call: func(ctx context.Context, cmd string) error {
			return r.RunCommand(ctx, cmd)
		}})
	}
	if sd, ok := h.(Shutdowner); ok {
		out = append(out, Candidate{Name: "shutdown", call: func(ctx context.Context, _ string) error {
			return sd.Shutdown(ctx)
		}})
	}
	if st, ok := h.(Stopper); ok {
		out = append(out, Candidate{Name: "stop", call: func(ctx context.Context, _ string) error {
			return st.Stop(ctx)
		}})
	}
	return out
}
