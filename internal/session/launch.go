package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"github.com/google/shlex"
)

// assistantEnv overrides the assistant command line, parsed with
// shell-style quoting. Example: `claude --verbose`.
const assistantEnv = "SESSIONVAULT_ASSISTANT_CMD"

const defaultAssistant = "claude"

// LaunchOptions controls how a session is resumed.
type LaunchOptions struct {
	DryRun          bool
	SkipPermissions bool
	Prompt          string
}

// Command describes an assistant invocation without running it.
type Command struct {
	Path string   `json:"path"`
	Args []string `json:"args"`
	Dir  string   `json:"dir"`
}

// String renders the command the way a shell user would type it.
func (c Command) String() string {
	out := c.Path
	for _, a := range c.Args {
		out += " " + a
	}
	return out
}

// assistantCommand resolves the assistant binary and any leading
// arguments from the environment override.
func assistantCommand() (string, []string, error) {
	if raw := os.Getenv(assistantEnv); raw != "" {
		parts, err := shlex.Split(raw)
		if err != nil {
			return "", nil, fmt.Errorf("parsing %s: %w", assistantEnv, err)
		}
		if len(parts) == 0 {
			return "", nil, fmt.Errorf("%s is empty after parsing", assistantEnv)
		}
		return parts[0], parts[1:], nil
	}
	return defaultAssistant, nil, nil
}

// BuildCommand produces the resume invocation for a session. The
// working directory is the session's recorded cwd; a session
// without one resumes from the current directory.
func (s *Service) BuildCommand(
	r *Resolved, opts LaunchOptions,
) (Command, error) {
	bin, args, err := assistantCommand()
	if err != nil {
		return Command{}, err
	}

	args = append(args, "--resume", r.SessionID)
	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.Prompt != "" {
		args = append(args, opts.Prompt)
	}

	cmd := Command{Path: bin, Args: args}
	if r.Cwd != nil {
		cmd.Dir = *r.Cwd
	}
	return cmd, nil
}

// Launch resumes a session in the foreground, inheriting
// standard I/O, and returns the child's exit code. While the
// child runs the parent swallows interrupts so Ctrl-C is handled
// by the child alone; the child still inherits the default
// disposition. In dry-run mode the command is returned without
// side effects and the exit code is zero.
func (s *Service) Launch(
	ctx context.Context, r *Resolved, opts LaunchOptions,
) (Command, int, error) {
	desc, err := s.BuildCommand(r, opts)
	if err != nil {
		return Command{}, 0, err
	}
	if opts.DryRun {
		return desc, 0, nil
	}

	path, err := exec.LookPath(desc.Path)
	if err != nil {
		return desc, 0, fmt.Errorf("assistant binary not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, desc.Args...)
	cmd.Dir = desc.Dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// Swallow Ctrl-C in the parent while the child runs. Notify
	// into a drained channel leaves the inherited disposition
	// untouched, so the interrupt still reaches the child through
	// the foreground process group; Ignore would be inherited and
	// the child would start with SIGINT masked off.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		for range interrupts {
		}
	}()
	defer func() {
		signal.Stop(interrupts)
		close(interrupts)
	}()

	err = cmd.Run()
	if err == nil {
		return desc, 0, nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return desc, exit.ExitCode(), nil
	}
	return desc, 0, fmt.Errorf("running assistant: %w", err)
}
