package actions

import (
	"time"
)

// RunOptions configure a run action.
type RunOptions struct {
	// Shell is the command passed to `sh -c`.
	Shell string `mapstructure:"shell"`

	// Timeout in seconds before the command is abandoned. Zero falls
	// back to the timeout the block was executed with.
	Timeout float64 `mapstructure:"timeout"`
}

// RunResult reports one executed shell command.
type RunResult struct {
	// Command is the command after placeholder substitution.
	Command string

	// Stdout is the command's standard output with trailing newlines
	// stripped.
	Stdout string
}

// Run executes a shell command in the module directory. Placeholders
// in the command are substituted on every execution, so commands can
// refer to the current event or modified file.
type Run struct {
	base
	opts RunOptions
}

// NewRun builds a run action from raw options.
func NewRun(options map[string]interface{}, env Env) (*Run, error) {
	action := &Run{base: newBase("run", options, env)}
	if err := decodeOptions(action.kind, options, &action.opts); err != nil {
		return nil, err
	}
	return action, nil
}

// Execute runs the command and returns its result. The second return
// is false for null actions and dry runs, whose results mean nothing.
func (a *Run) Execute(dryRun bool, defaultTimeout time.Duration) (RunResult, bool) {
	if a.null {
		return RunResult{}, false
	}

	command := a.text(a.opts.Shell)
	if dryRun {
		a.logger.Info().
			Str("module", a.env.Module).
			Str("command", command).
			Msg("SKIPPED: would run command")
		return RunResult{}, false
	}

	timeout := defaultTimeout
	if a.opts.Timeout > 0 {
		timeout = time.Duration(a.opts.Timeout * float64(time.Second))
	}

	a.logger.Info().
		Str("module", a.env.Module).
		Str("command", command).
		Msg("Running command")
	stdout := a.env.Runner.Run(command, a.env.Directory, timeout, "")
	return RunResult{Command: command, Stdout: stdout}, true
}
