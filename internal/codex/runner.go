package codex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultWaitDelay bounds how long output is drained after the process is
// killed on timeout.
const DefaultWaitDelay = 5 * time.Second

// Invocation is the resolved launch description for one turn.
type Invocation struct {
	Command    string
	Args       []string
	Dir        string
	Timeout    time.Duration
	OutputPath string // file codex writes its final message to
	Resume     bool   // true when Args continue an existing session
}

// Outcome is what one invocation produced.
type Outcome struct {
	ExitCode     int
	Output       string // combined stdout and stderr
	FinalMessage string // contents of the output file, empty if absent
	SessionID    string // first thread.started handle, empty if none
	TimedOut     bool
	Duration     time.Duration
}

// Failed reports whether the process exited non-zero or timed out.
func (o Outcome) Failed() bool {
	return o.TimedOut || o.ExitCode != 0
}

// Invoker runs one invocation to completion. Runner is the production
// implementation; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (Outcome, error)
}

// Runner implements Invoker by launching the codex CLI.
type Runner struct {
	logger    *zap.Logger
	waitDelay time.Duration
}

// RunnerOpts holds parameters for creating a Runner.
type RunnerOpts struct {
	Logger    *zap.Logger   // defaults to a no-op logger
	WaitDelay time.Duration // defaults to DefaultWaitDelay
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOpts) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	waitDelay := opts.WaitDelay
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}
	return &Runner{logger: logger, waitDelay: waitDelay}
}

// NewOutputPath returns a unique output file path under dir (os.TempDir()
// when empty). The file itself is not created.
func NewOutputPath(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "minicodex-last-"+uuid.NewString()+".txt")
}

// RemoveOutput deletes an output file, ignoring a file that never existed.
func RemoveOutput(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Invoke runs the invocation. A timeout is reported through
// Outcome.TimedOut, a non-zero exit through Outcome.ExitCode; the returned
// error is reserved for failures to start and for parent cancellation. The
// output file is removed before Invoke returns on every path.
func (r *Runner) Invoke(ctx context.Context, inv Invocation) (Outcome, error) {
	defer func() {
		if err := RemoveOutput(inv.OutputPath); err != nil {
			r.logger.Warn("codex: remove output file", zap.String("path", inv.OutputPath), zap.Error(err))
		}
	}()

	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir

	// Same writer for both streams: exec serialises the writes.
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	// Use a process group so the kill reaches codex's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = r.waitDelay

	r.logger.Debug("codex: spawn",
		zap.String("command", inv.Command),
		zap.Strings("args", inv.Args),
		zap.String("dir", inv.Dir),
		zap.Bool("resume", inv.Resume))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("codex: start %s: %w", inv.Command, err)
	}
	waitErr := cmd.Wait()

	out := Outcome{
		Output:   combined.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		return out, fmt.Errorf("codex: run cancelled: %w", ctx.Err())
	}
	if timedOut(runCtx, waitErr) {
		out.TimedOut = true
		out.ExitCode = -1
		r.logger.Warn("codex: timed out", zap.Duration("timeout", inv.Timeout), zap.Int("output_bytes", len(out.Output)))
		return out, nil
	}

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return out, fmt.Errorf("codex: wait %s: %w", inv.Command, waitErr)
		}
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	out.SessionID, _ = ParseSessionID(out.Output)
	out.FinalMessage = readOutput(inv.OutputPath)
	return out, nil
}

// timedOut reports whether the deadline killed the process. A process that
// exited cleanly before the kill landed did not time out, even if the
// deadline has passed by the time Wait returns.
func timedOut(runCtx context.Context, waitErr error) bool {
	return waitErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
}

// readOutput returns the output file contents, or "" if the file is absent
// or holds only whitespace.
func readOutput(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return ""
	}
	return content
}
