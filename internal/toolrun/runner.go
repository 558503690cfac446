package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"hush/internal/config"
	"hush/internal/logging"
	"hush/internal/services"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Timeout bounds the invocation. Zero means only the parent context applies.
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result captures the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

const (
	stderrTailBytes = 512
	waitDelay       = 5 * time.Second
)

// ExecRunner runs commands via os/exec.
type ExecRunner struct {
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
	start      func(*exec.Cmd) error
}

// NewExecRunner builds a runner using the spawn retry policy from cfg.
func NewExecRunner(cfg *config.Config, logger *slog.Logger) *ExecRunner {
	r := &ExecRunner{
		logger: logging.NewComponentLogger(logger, "toolrun"),
		start:  (*exec.Cmd).Start,
	}
	if cfg != nil {
		r.retries = cfg.Tools.SpawnRetries
		r.retryDelay = time.Duration(cfg.Tools.SpawnRetryDelayMs) * time.Millisecond
	}
	return r
}

// Run executes cmd, retrying only when the process could not be spawned.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return Result{ExitCode: -1}, services.Wrap(services.ErrValidation, "", "run", "empty command name", nil)
	}
	logger := logging.WithContext(ctx, r.logger)

	attempts := r.retries + 1
	delay := r.retryDelay
	var spawnErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, spawned, err := r.runOnce(ctx, cmd)
		if spawned {
			logger.Debug("tool finished",
				logging.String("tool", cmd.Name),
				logging.String("args", strings.Join(cmd.Args, " ")),
				logging.Int("exit_code", result.ExitCode),
				logging.Duration("duration", result.Duration),
			)
			return result, err
		}
		if !isTransientSpawnError(err) {
			return result, services.Wrap(services.ErrExternalTool, "", cmd.Name, "cannot start process", err)
		}
		spawnErr = err
		if attempt == attempts {
			break
		}
		logging.WarnWithContext(logger, "tool spawn failed; retrying", "tool_spawn_retry",
			logging.String("tool", cmd.Name),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job delayed"),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("%s: %w", cmd.Name, err)
		}
		delay *= 2
	}
	return Result{ExitCode: -1}, services.Wrap(services.ErrTransient, "", cmd.Name,
		fmt.Sprintf("spawn failed after %d attempts", attempts), spawnErr)
}

// runOnce reports whether the process was started; when it was not, err is
// the raw spawn error.
func (r *ExecRunner) runOnce(ctx context.Context, command Command) (Result, bool, error) {
	runCtx := ctx
	if command.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := r.start(cmd); err != nil {
		return Result{ExitCode: -1}, false, err
	}
	err := cmd.Wait()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if err == nil {
		return result, true, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	switch {
	case ctx.Err() != nil:
		return result, true, fmt.Errorf("%s: %w", command.Name, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return result, true, services.Wrap(services.ErrTimeout, "", command.Name,
			fmt.Sprintf("exceeded %s", command.Timeout), err)
	}
	return result, true, services.Wrap(services.ErrExternalTool, "", command.Name,
		fmt.Sprintf("exit status %d: %s", result.ExitCode, StderrTail(result.Stderr)), nil)
}

// isTransientSpawnError reports spawn failures worth retrying: the binary is
// being replaced or the system is briefly out of process slots.
func isTransientSpawnError(err error) bool {
	return errors.Is(err, unix.ETXTBSY) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOMEM)
}

// StderrTail returns the last few hundred bytes of tool stderr, trimmed.
func StderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) <= stderrTailBytes {
		return stderr
	}
	start := len(stderr) - stderrTailBytes
	for start < len(stderr) && !utf8.RuneStart(stderr[start]) {
		start++
	}
	return "…" + stderr[start:]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
