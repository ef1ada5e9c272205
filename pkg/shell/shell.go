// Package shell runs user-declared commands through the system shell.
// Commands never raise: a non-zero exit or a timeout yields the
// caller's fallback value so one misbehaving command cannot stop a
// scheduling tick.
package shell

import (
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/heliod-dev/heliod/pkg/logging"
)

// DefaultTimeout bounds command execution when neither the action nor
// the module configuration overrides it.
const DefaultTimeout = 2 * time.Second

// Runner executes shell commands in a working directory.
type Runner struct {
	logger zerolog.Logger
}

// New creates a Runner.
func New() *Runner {
	return &Runner{logger: logging.GetLogger("shell")}
}

// Run executes command with `sh -c` in workingDir, waiting up to
// timeout for it to finish. Stderr lines are logged, a non-zero exit
// or a timeout yields fallback instead of stdout, and newlines are
// stripped from the returned stdout so results can be interpolated
// into option strings.
//
// A timed-out command is abandoned, not killed: run actions commonly
// start daemons and background processes that must outlive the wait.
func (r *Runner) Run(command, workingDir string, timeout time.Duration, fallback string) string {
	if timeout <= 0 {
		// A zero timeout still gives really quick commands a chance
		// to finish before being abandoned.
		timeout = 100 * time.Millisecond
	}

	logging.LogCommand(command, timeout)

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		r.logger.Error().Err(err).Str("command", command).Msg("Failed to start command")
		return fallback
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		r.logStderr(command, stderr.String())

		if err != nil {
			exitCode := -1
			var exitErr *exec.ExitError
			if stderrors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
			r.logger.Error().
				Str("command", command).
				Int("exitCode", exitCode).
				Msg("Command exited with non-zero return code")
			return fallback
		}

		out := stdout.String()
		r.logger.Debug().Str("command", command).Str("stdout", out).Msg("Command finished")
		return strings.ReplaceAll(out, "\n", "")

	case <-time.After(timeout):
		r.logger.Warn().
			Str("command", command).
			Dur("timeout", timeout).
			Msg("Command did not finish within its timeout. The exit code can not " +
				"be verified. This might be intentional for background processes and daemons")
		return fallback
	}
}

// RunAndKill behaves like Run but terminates the command when the
// timeout expires, and reports whether the command finished with a
// zero exit code. Requirement probes use this variant since an
// abandoned probe would be a leak rather than a feature.
func (r *Runner) RunAndKill(command, workingDir string, timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logging.LogCommand(command, timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workingDir

	// The command gets its own process group so that cancellation kills
	// the shell together with everything it forked. Killing only the
	// shell would leave a child holding the output pipe open and Wait
	// blocked far past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	r.logStderr(command, stderr.String())

	if ctx.Err() == context.DeadlineExceeded {
		r.logger.Warn().
			Str("command", command).
			Dur("timeout", timeout).
			Msg("Command killed after exceeding its timeout")
		return "", false
	}
	if err != nil {
		r.logger.Debug().Err(err).Str("command", command).Msg("Command failed")
		return "", false
	}

	return strings.TrimRight(stdout.String(), "\n"), true
}

func (r *Runner) logStderr(command, output string) {
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if line != "" {
			r.logger.Error().Str("command", command).Msg(line)
		}
	}
}
