package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/shell"
)

var (
	envVariablePattern = regexp.MustCompile(`\$\{(\w+)\}`)
	commandPattern     = regexp.MustCompile(`\$\((.*)\)`)
)

// ExpandedEnv returns the process environment with variable references
// inside the values themselves expanded, so PATH-style compositions such
// as FOO=$HOME/bin resolve to their final form.
func ExpandedEnv() map[string]string {
	env := make(map[string]string, len(os.Environ()))
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		env[name] = os.ExpandEnv(value)
	}
	return env
}

// InsertEnvironmentValues replaces every ${NAME} occurrence in line with
// the value of NAME from env. Lookups are case sensitive. Unset variables
// substitute to the empty string with a warning.
func InsertEnvironmentValues(line string, env map[string]string) string {
	return envVariablePattern.ReplaceAllStringFunc(line, func(match string) string {
		name := envVariablePattern.FindStringSubmatch(match)[1]
		value, ok := env[name]
		if !ok {
			logger := logging.GetLogger("config")
			logger.Warn().
				Str("variable", name).
				Msg("Environment variable not set, substituting empty string")
			return ""
		}
		return value
	})
}

// InsertCommandSubstitutions replaces every $(command) occurrence in line
// with the stdout of the command, run from workingDir. Failing commands
// substitute to the empty string.
func InsertCommandSubstitutions(line, workingDir string, runner *shell.Runner) string {
	if runner == nil {
		runner = shell.New()
	}
	return commandPattern.ReplaceAllStringFunc(line, func(match string) string {
		command := commandPattern.FindStringSubmatch(match)[1]
		return runner.Run(command, workingDir, shell.DefaultTimeout, "")
	})
}

// Substitute preprocesses raw configuration bytes line by line, first
// interpolating ${NAME} environment variables and then $(command) shell
// substitutions. The line structure of the input is preserved so YAML
// parse errors still point at the right place.
func Substitute(data []byte, workingDir string, runner *shell.Runner) []byte {
	env := ExpandedEnv()
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		line = InsertEnvironmentValues(line, env)
		line = InsertCommandSubstitutions(line, workingDir, runner)
		lines[i] = line
	}
	return []byte(strings.Join(lines, "\n"))
}
