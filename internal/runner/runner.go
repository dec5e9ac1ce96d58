// Package runner executes verification commands in a worktree with a
// wall-clock timeout and best-effort recovery of partial output.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// DefaultTimeout bounds a single verification command
const DefaultTimeout = 300 * time.Second

// Result is a command capture plus timeout metadata
type Result struct {
	Output   domain.CommandOutput
	TimedOut bool
	Duration time.Duration
}

// Runner spawns verification commands
type Runner struct {
	Timeout time.Duration
	Debug   bool
}

// New creates a Runner with the given per-command timeout (0 means default)
func New(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{Timeout: timeout}
}

// Run executes command with sh -c in dir, capturing stdout and stderr
// separately. On timeout the process is killed, whatever output was buffered
// is kept, and the capture is dumped to a diagnostic log in the worktree.
// The returned error is reserved for spawn failures; a non-zero exit is a
// normal result.
func (r *Runner) Run(ctx context.Context, dir, command string) (*Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	// Run the command in its own process group and kill the whole group on
	// timeout. Killing only sh would leave children holding the output pipes
	// open and block partial-output recovery.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", command, err)
	}
	if r.Debug {
		log.Printf("[runner] started %q in %s (pid %d)", command, dir, cmd.Process.Pid)
	}

	var stdoutBuf, stderrBuf strings.Builder
	var g errgroup.Group
	g.Go(func() error { return drain(stdout, &stdoutBuf) })
	g.Go(func() error { return drain(stderr, &stderrBuf) })
	g.Wait() // drain errors mean the pipes closed; the exit status decides

	waitErr := cmd.Wait()
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
			if exitCode < 0 {
				// Killed by signal (timeout path)
				exitCode = 124
			}
		} else if !timedOut {
			return nil, fmt.Errorf("running %q: %w", command, waitErr)
		} else {
			exitCode = 124
		}
	}

	res := &Result{
		Output: domain.CommandOutput{
			Stdout:   stdoutBuf.String(),
			Stderr:   stderrBuf.String(),
			ExitCode: exitCode,
		},
		TimedOut: timedOut,
		Duration: time.Since(start),
	}

	if timedOut {
		r.dumpDiagnostics(dir, command, res)
	}

	return res, nil
}

func drain(r io.Reader, out *strings.Builder) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		out.WriteString(scanner.Text())
		out.WriteByte('\n')
	}
	return scanner.Err()
}

// dumpDiagnostics writes the partial capture of a timed-out command to a log
// file in the worktree for post-mortem inspection. Best effort.
func (r *Runner) dumpDiagnostics(dir, command string, res *Result) {
	path := filepath.Join(dir, ".pulse-verification-timeout.log")
	content := fmt.Sprintf("command: %s\ntimed out after: %s\nexit code: %d\n\n--- stdout ---\n%s\n--- stderr ---\n%s\n",
		command, r.Timeout, res.Output.ExitCode, res.Output.Stdout, res.Output.Stderr)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		log.Printf("[runner] failed to write timeout diagnostics: %v", err)
	}
}
