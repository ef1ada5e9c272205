// Package config loads heliod.yml and module configuration files.
//
// Configuration files are YAML documents preprocessed line by line before
// parsing: ${NAME} interpolates environment variables and $(command)
// substitutes shell output. Top-level sections are namespaced by prefix:
// context/* seeds the application context, module/* declares modules and
// config/* carries global settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/paths"
	"github.com/heliod-dev/heliod/pkg/shell"
)

// UserConfig is the parsed content of the top level heliod.yml together
// with the resolved global settings.
type UserConfig struct {
	// Path is the absolute configuration file path, empty when the user
	// has no heliod.yml and defaults apply.
	Path string
	// Directory is the configuration home all relative paths anchor to.
	Directory string
	// ModulesDir is the resolved directory holding module subdirectories.
	ModulesDir string
	// Global carries the typed config/* settings.
	Global GlobalConfig

	sections map[string]interface{}
}

// Load reads the user's heliod.yml if present and resolves global
// settings from defaults, the file and HELIOD_ environment overrides.
func Load(p paths.Paths, runner *shell.Runner) (*UserConfig, error) {
	logger := logging.GetLogger("config")

	doc := map[string]interface{}{}
	configPath := ""
	if p.HasUserConfig() {
		configPath = p.ConfigFilePath()
		var err error
		doc, err = ReadConfigFile(configPath, runner)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", configPath).Msg("Loaded configuration file")
	} else {
		logger.Warn().
			Str("path", p.ConfigFilePath()).
			Msg("Configuration file not found, using defaults")
	}

	global, err := loadGlobalConfig(doc)
	if err != nil {
		return nil, err
	}

	return &UserConfig{
		Path:       configPath,
		Directory:  p.ConfigHome(),
		ModulesDir: paths.Resolve(p.ConfigHome(), global.Modules.ModulesDirectory),
		Global:     global,
		sections:   doc,
	}, nil
}

// ReadConfigFile loads a single configuration file, applying substitution
// preprocessing with shell commands run from the file's directory.
func ReadConfigFile(path string, runner *shell.Runner) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigLoad,
			"could not read configuration file %q", path)
	}
	return decodeDocument(Substitute(data, filepath.Dir(path), runner), path)
}

func decodeDocument(data []byte, path string) (map[string]interface{}, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigParse, "invalid YAML in %q", path)
	}
	switch m := doc.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return m, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for key, value := range m {
			out[fmt.Sprint(key)] = value
		}
		return out, nil
	default:
		return nil, errors.Newf(errors.ErrConfigParse,
			"configuration file %q must be a mapping at root indentation", path)
	}
}

// Section returns a top-level section body by its full name.
func (c *UserConfig) Section(name string) (map[string]interface{}, bool) {
	value, ok := c.sections[name]
	if !ok {
		return nil, false
	}
	return asMap(value), true
}

// ContextSections returns the context/* sections keyed by bare name.
func (c *UserConfig) ContextSections() map[string]interface{} {
	return ContextSectionsOf(c.sections)
}

// ContextSectionsOf extracts the context/* sections of any configuration
// document, keyed by bare name. Context files imported by modules use
// the same section prefix as heliod.yml.
func ContextSectionsOf(document map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for name, value := range document {
		if strings.HasPrefix(name, ContextSectionPrefix) {
			out[strings.TrimPrefix(name, ContextSectionPrefix)] = value
		}
	}
	return out
}

// ModuleSections returns the module/* sections keyed by bare module name.
func (c *UserConfig) ModuleSections() map[string]map[string]interface{} {
	out := map[string]map[string]interface{}{}
	for name, value := range c.sections {
		if !strings.HasPrefix(name, ModuleSectionPrefix) {
			continue
		}
		out[strings.TrimPrefix(name, ModuleSectionPrefix)] = asMap(value)
	}
	return out
}

// asMap normalizes a decoded YAML section body into a string-keyed map.
// Empty sections become empty maps so modules without actions stay valid.
func asMap(value interface{}) map[string]interface{} {
	switch m := value.(type) {
	case map[string]interface{}:
		return m
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for key, v := range m {
			out[fmt.Sprint(key)] = v
		}
		return out
	default:
		return map[string]interface{}{}
	}
}
