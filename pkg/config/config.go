package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/paths"
)

const (
	// AppSection is the heliod.yml section holding process-wide settings.
	AppSection = "config/heliod"
	// ModulesSection is the heliod.yml section holding module defaults.
	ModulesSection = "config/modules"

	// ContextSectionPrefix namespaces sections seeding the application context.
	ContextSectionPrefix = "context/"
	// ModuleSectionPrefix namespaces sections declaring modules.
	ModuleSectionPrefix = "module/"

	envPrefix = "HELIOD_"
)

// AppConfig holds the config/heliod section.
type AppConfig struct {
	HotReloadConfig bool          `koanf:"hot_reload_config"`
	StartupDelay    time.Duration `koanf:"startup_delay"`
}

// ModulesConfig holds the config/modules section.
type ModulesConfig struct {
	RequiresTimeout            time.Duration       `koanf:"requires_timeout"`
	RunTimeout                 time.Duration       `koanf:"run_timeout"`
	RecompileModifiedTemplates bool                `koanf:"recompile_modified_templates"`
	ModulesDirectory           string              `koanf:"modules_directory"`
	EnabledModules             []EnablingStatement `koanf:"enabled_modules"`
}

// GlobalConfig is the typed view of all config/* sections after merging
// defaults, the user's file and HELIOD_ environment overrides.
type GlobalConfig struct {
	App     AppConfig     `koanf:"heliod"`
	Modules ModulesConfig `koanf:"modules"`
}

// EnablingStatement is one entry of enabled_modules. Trusted defaults to
// true when omitted.
type EnablingStatement struct {
	Name    string `koanf:"name"`
	Trusted *bool  `koanf:"trusted"`
}

// IsTrusted reports whether the statement marks its modules as trusted.
func (e EnablingStatement) IsTrusted() bool {
	return e.Trusted == nil || *e.Trusted
}

func defaultSettings() map[string]interface{} {
	return map[string]interface{}{
		"heliod": map[string]interface{}{
			"hot_reload_config": false,
			"startup_delay":     0,
		},
		"modules": map[string]interface{}{
			"requires_timeout":             1,
			"run_timeout":                  0,
			"recompile_modified_templates": false,
			"modules_directory":            paths.ModulesDirName,
		},
	}
}

// loadGlobalConfig resolves the typed global configuration from the
// config/* sections of an already parsed document.
func loadGlobalConfig(sections map[string]interface{}) (GlobalConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultSettings(), "."), nil); err != nil {
		return GlobalConfig{}, errors.Wrap(err, errors.ErrConfigLoad, "failed to load default settings")
	}

	user := map[string]interface{}{}
	if app, ok := sections[AppSection]; ok {
		user["heliod"] = asMap(app)
	}
	if modules, ok := sections[ModulesSection]; ok {
		user["modules"] = asMap(modules)
	}
	if len(user) > 0 {
		if err := k.Load(confmap.Provider(user, "."), nil); err != nil {
			return GlobalConfig{}, errors.Wrap(err, errors.ErrConfigLoad, "failed to merge user settings")
		}
	}

	// HELIOD_MODULES__RUN_TIMEOUT=5 overrides modules.run_timeout, with a
	// double underscore separating the section from the setting name.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return GlobalConfig{}, errors.Wrap(err, errors.ErrConfigLoad, "failed to load environment overrides")
	}

	var cfg GlobalConfig
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				secondsToDurationHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return GlobalConfig{}, errors.Wrap(err, errors.ErrConfigInvalid, "failed to unmarshal global configuration")
	}

	if !k.Exists("modules.enabled_modules") {
		cfg.Modules.EnabledModules = DefaultEnablingStatements()
	}

	return cfg, nil
}

// secondsToDurationHookFunc converts bare numbers in timeout settings
// into durations measured in seconds, so requires_timeout: 2 means two
// seconds. Strings such as "500ms" fall through to the ordinary duration
// parser.
func secondsToDurationHookFunc() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != durationType || f == durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case uint64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return time.Duration(n) * time.Second, nil
			}
			if x, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(x * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}
