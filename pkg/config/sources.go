package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/paths"
	"github.com/heliod-dev/heliod/pkg/shell"
)

var (
	globalNamePattern    = regexp.MustCompile(`^(\w+|\*)$`)
	directoryNamePattern = regexp.MustCompile(`^[^:]+::(\w+|\*)$`)
)

// ModuleDefinition is one module ready for construction: its resolved
// name, the directory its relative paths anchor to, and its raw
// configuration body.
type ModuleDefinition struct {
	Name      string
	Directory string
	Trusted   bool
	Config    map[string]interface{}
}

// EnabledModules is the resolved set of module definitions, plus any
// context sections contributed by module directory configuration files.
// Context sections from heliod.yml itself take precedence over these.
type EnabledModules struct {
	Definitions []ModuleDefinition
	Context     map[string]interface{}
}

// DefaultEnablingStatements enables every module declared in heliod.yml
// and every module directory when the user does not say otherwise.
func DefaultEnablingStatements() []EnablingStatement {
	return []EnablingStatement{
		{Name: "*"},
		{Name: "*::*"},
	}
}

// ExplicitEnablingStatements enables exactly the named modules,
// replacing the configured enabled_modules for one invocation. Names
// use the same forms as enabled_modules entries, so directory modules
// are selected as subdir::name.
func ExplicitEnablingStatements(names []string) []EnablingStatement {
	statements := make([]EnablingStatement, 0, len(names))
	for _, name := range names {
		statements = append(statements, EnablingStatement{Name: name})
	}
	return statements
}

// ResolveModules expands the enabled_modules statements into concrete
// module definitions. Modules named directly in heliod.yml anchor their
// relative paths to the configuration home; directory modules anchor to
// their own subdirectory under the modules directory. Invalid statements
// and unreadable module directories are logged and skipped, never fatal.
func (c *UserConfig) ResolveModules(runner *shell.Runner) *EnabledModules {
	logger := logging.GetLogger("config")

	enabled := &EnabledModules{Context: map[string]interface{}{}}
	for _, statement := range expandWildcardStatements(c.Global.Modules.EnabledModules, c.ModulesDir) {
		switch {
		case globalNamePattern.MatchString(statement.Name):
			enabled.Definitions = append(enabled.Definitions, c.globalDefinitions(statement)...)
		case strings.HasPrefix(statement.Name, "github::"):
			logger.Error().
				Str("name", statement.Name).
				Msg("GitHub module sources are not supported")
		case directoryNamePattern.MatchString(statement.Name):
			c.directoryDefinitions(statement, runner, enabled)
		default:
			logger.Error().
				Str("name", statement.Name).
				Msg("Invalid module name syntax in enabled_modules")
		}
	}
	return enabled
}

// globalDefinitions selects module/* sections of heliod.yml itself.
func (c *UserConfig) globalDefinitions(statement EnablingStatement) []ModuleDefinition {
	sections := c.ModuleSections()

	var names []string
	if statement.Name == "*" {
		for name := range sections {
			names = append(names, name)
		}
	} else if _, ok := sections[statement.Name]; ok {
		names = []string{statement.Name}
	} else {
		logger := logging.GetLogger("config")
		logger.Warn().
			Str("module", statement.Name).
			Msg("Enabled module is not defined in the configuration file")
		return nil
	}

	definitions := make([]ModuleDefinition, 0, len(names))
	for _, name := range names {
		definitions = append(definitions, ModuleDefinition{
			Name:      name,
			Directory: c.Directory,
			Trusted:   statement.IsTrusted(),
			Config:    sections[name],
		})
	}
	return definitions
}

// directoryDefinitions loads <modules dir>/<subdir>/config.yml and keeps
// the enabled module/* sections, renaming each to subdir::name so modules
// from different directories never collide. Context sections of the file
// are collected as well, first writer wins.
func (c *UserConfig) directoryDefinitions(statement EnablingStatement, runner *shell.Runner, enabled *EnabledModules) {
	logger := logging.GetLogger("config")

	subdir, enabledName, _ := strings.Cut(statement.Name, "::")
	dir := filepath.Join(c.ModulesDir, subdir)
	configFile := filepath.Join(dir, paths.ModuleConfigFileName)

	doc, err := ReadConfigFile(configFile, runner)
	if err != nil {
		logger.Warn().
			Str("path", configFile).
			Str("module", statement.Name).
			Msg("Skipping enabled module with unreadable configuration file")
		return
	}

	found := false
	for section, body := range doc {
		switch {
		case strings.HasPrefix(section, ModuleSectionPrefix):
			name := strings.TrimPrefix(section, ModuleSectionPrefix)
			if enabledName != "*" && name != enabledName {
				continue
			}
			found = true
			enabled.Definitions = append(enabled.Definitions, ModuleDefinition{
				Name:      subdir + "::" + name,
				Directory: dir,
				Trusted:   statement.IsTrusted(),
				Config:    asMap(body),
			})
		case strings.HasPrefix(section, ContextSectionPrefix):
			name := strings.TrimPrefix(section, ContextSectionPrefix)
			if _, ok := enabled.Context[name]; !ok {
				enabled.Context[name] = body
			}
		}
	}

	if !found && enabledName != "*" {
		logger.Error().
			Str("module", statement.Name).
			Str("path", configFile).
			Msg("Enabled module does not exist in its configuration file")
	}
}

// expandWildcardStatements replaces each *::* statement with one
// subdir::* statement per module directory.
func expandWildcardStatements(statements []EnablingStatement, modulesDir string) []EnablingStatement {
	expanded := make([]EnablingStatement, 0, len(statements))
	for _, statement := range statements {
		if statement.Name != "*::*" {
			expanded = append(expanded, statement)
			continue
		}
		for _, subdir := range moduleDirectories(modulesDir) {
			expanded = append(expanded, EnablingStatement{
				Name:    subdir + "::*",
				Trusted: statement.Trusted,
			})
		}
	}
	return expanded
}

// moduleDirectories lists subdirectories of within holding a config.yml.
func moduleDirectories(within string) []string {
	entries, err := os.ReadDir(within)
	if err != nil {
		logger := logging.GetLogger("config")
		logger.Debug().
			Str("path", within).
			Msg("No module directories found")
		return nil
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		configFile := filepath.Join(within, entry.Name(), paths.ModuleConfigFileName)
		if _, err := os.Stat(configFile); err == nil {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs
}
