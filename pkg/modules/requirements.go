package modules

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/shell"
)

// Requirement is one entry of a module's requires option. Every field
// that is set must hold for the module to be enabled.
type Requirement struct {
	// Shell is a command that must exit zero.
	Shell string `mapstructure:"shell"`
	// Timeout bounds the Shell probe, in seconds. Zero means the
	// global requires_timeout setting.
	Timeout float64 `mapstructure:"timeout"`
	// Env is an environment variable that must be set.
	Env string `mapstructure:"env"`
	// Installed is a program that must be found on PATH.
	Installed string `mapstructure:"installed"`
	// Module is another module that must be enabled. Checked once the
	// full set of enabled modules is known.
	Module string `mapstructure:"module"`
}

// requirementsOf decodes the requires option of a module declaration.
// A single mapping and a list of mappings are both accepted.
func requirementsOf(config map[string]interface{}) ([]Requirement, error) {
	raw, ok := config["requires"]
	if !ok || raw == nil {
		return nil, nil
	}

	entries, ok := raw.([]interface{})
	if !ok {
		entries = []interface{}{raw}
	}

	requirements := make([]Requirement, 0, len(entries))
	for _, entry := range entries {
		var requirement Requirement
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &requirement,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "could not build requirements decoder")
		}
		if err := decoder.Decode(entry); err != nil {
			return nil, errors.Wrap(err, errors.ErrModuleInvalid, "invalid requires option")
		}
		requirements = append(requirements, requirement)
	}
	return requirements, nil
}

// RequirementReport is the outcome of probing a module's requirements,
// with a summary suited for the log.
type RequirementReport struct {
	Satisfied bool

	details []string
}

func (r RequirementReport) String() string {
	if len(r.details) == 0 {
		return "module requirements: no requirements (OK)"
	}
	return "module requirements: " + strings.Join(r.details, ", ")
}

// checkRequirements probes every non-module requirement: shell probes
// run in the module directory and are killed at their timeout, env and
// installed requirements are checked against the current process
// environment.
func checkRequirements(
	requirements []Requirement,
	directory string,
	runner *shell.Runner,
	timeout time.Duration,
) RequirementReport {
	report := RequirementReport{Satisfied: true}
	met := func(ok bool, failure, success string) {
		if ok {
			report.details = append(report.details, success)
		} else {
			report.details = append(report.details, failure)
			report.Satisfied = false
		}
	}

	for _, requirement := range requirements {
		if requirement.Shell != "" {
			probeTimeout := timeout
			if requirement.Timeout > 0 {
				probeTimeout = time.Duration(requirement.Timeout * float64(time.Second))
			}
			_, ok := runner.RunAndKill(requirement.Shell, directory, probeTimeout)
			met(ok,
				fmt.Sprintf("unsuccessful command %q", requirement.Shell),
				fmt.Sprintf("successful command %q (OK)", requirement.Shell))
		}
		if requirement.Env != "" {
			_, ok := os.LookupEnv(requirement.Env)
			met(ok,
				fmt.Sprintf("missing environment variable %q", requirement.Env),
				fmt.Sprintf("found environment variable %q (OK)", requirement.Env))
		}
		if requirement.Installed != "" {
			_, err := exec.LookPath(requirement.Installed)
			met(err == nil,
				fmt.Sprintf("program %q not installed", requirement.Installed),
				fmt.Sprintf("program %q installed (OK)", requirement.Installed))
		}
	}
	return report
}

// moduleDependencies collects the names of modules a requires option
// depends on.
func moduleDependencies(requirements []Requirement) []string {
	var depends []string
	for _, requirement := range requirements {
		if requirement.Module != "" {
			depends = append(depends, requirement.Module)
		}
	}
	return depends
}

// popMissingModuleDependencies removes modules that depend on modules
// outside the enabled set, repeating until the set is stable since
// removing one module can invalidate another that depended on it.
func popMissingModuleDependencies(modules map[string]*Module) {
	logger := logging.GetLogger("modules")
	for {
		removed := false
		for name, module := range modules {
			for _, dependency := range module.dependsOn {
				if _, ok := modules[dependency]; ok {
					continue
				}
				logger.Error().
					Str("module", name).
					Str("dependency", dependency).
					Msg("Missing module dependency, disabling module")
				delete(modules, name)
				removed = true
				break
			}
		}
		if !removed {
			return
		}
	}
}
