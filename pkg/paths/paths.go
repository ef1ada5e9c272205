// Package paths provides centralized path handling for heliod.
// It implements XDG Base Directory specification compliance and
// provides a consistent API for all path operations in the codebase.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/heliod-dev/heliod/pkg/errors"
)

// Environment variable names
const (
	// EnvConfigHome overrides the heliod configuration directory
	EnvConfigHome = "HELIOD_CONFIG_HOME"

	// EnvDataDir overrides the XDG data directory for heliod
	EnvDataDir = "HELIOD_DATA_DIR"

	// EnvHome is the standard home directory variable
	EnvHome = "HOME"
)

// Default directories and files
// IMPORTANT: These constants define heliod's on-disk layout and are NOT
// user-configurable. They must remain consistent across installations so
// that persisted state written by one version is readable by the next.
const (
	// HeliodDirName is the directory name for heliod-specific files
	HeliodDirName = "heliod"

	// ConfigFileName is the name of the top-level configuration file
	ConfigFileName = "heliod.yml"

	// ModulesDirName is the subdirectory holding external module sources
	ModulesDirName = "modules"

	// ModuleConfigFileName is the configuration file inside a module source
	ModuleConfigFileName = "config.yml"

	// BackupsDirName is the subdirectory for backups of overwritten files
	BackupsDirName = "backups"

	// CreatedFilesFileName tracks every file heliod has written
	CreatedFilesFileName = "created_files.yml"

	// SetupFileName tracks actions that only ever run once
	SetupFileName = "setup.yml"

	// PidFileName identifies the running heliod instance
	PidFileName = "heliod.pid"

	// LogFileName is the name of the log file
	LogFileName = "heliod.log"

	// TempDirName is the directory under the system temp dir for
	// compiled templates without an explicit target
	TempDirName = "heliod"
)

// Paths provides centralized path management for heliod
type Paths interface {
	ConfigHome() string
	HasUserConfig() bool
	ConfigFilePath() string
	ModulesDir() string
	ModuleSourceDir(category, name string) string
	DataDir() string
	BackupsDir() string
	CreatedFilesPath() string
	SetupPath() string
	PidFilePath() string
	LogFilePath() string
	TempDir() string
	NormalizePath(path string) (string, error)
	IsInConfigHome(path string) (bool, error)
}

type paths struct {
	// configHome is the directory holding heliod.yml, templates and modules
	configHome string

	// hasUserConfig records whether configHome contained heliod.yml
	// at construction time, so callers can warn and run on defaults
	hasUserConfig bool

	// xdgData is the XDG data directory
	xdgData string

	// xdgState is the XDG state directory
	xdgState string
}

// New creates a new Paths instance rooted at the given configuration
// directory. If configHome is empty, it is determined from environment
// variables or XDG defaults.
func New(configHome string) (Paths, error) {
	p := &paths{}

	if configHome == "" {
		p.configHome = findConfigHome()
	} else {
		p.configHome = expandHome(configHome)
	}

	absHome, err := filepath.Abs(p.configHome)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to get absolute path for config directory")
	}
	p.configHome = absHome

	if _, err := os.Stat(p.ConfigFilePath()); err == nil {
		p.hasUserConfig = true
	}

	p.setupXDGDirs()

	return p, nil
}

// findConfigHome determines the configuration directory using the
// following priority:
// 1. HELIOD_CONFIG_HOME environment variable (if set)
// 2. $XDG_CONFIG_HOME/heliod (XDG default)
func findConfigHome() string {
	if home := os.Getenv(EnvConfigHome); home != "" {
		return expandHome(home)
	}
	return filepath.Join(xdg.ConfigHome, HeliodDirName)
}

// setupXDGDirs initializes XDG directories, respecting environment overrides
func (p *paths) setupXDGDirs() {
	if dataDir := os.Getenv(EnvDataDir); dataDir != "" {
		p.xdgData = expandHome(dataDir)
	} else {
		p.xdgData = filepath.Join(xdg.DataHome, HeliodDirName)
	}

	// XDG_STATE_HOME is not covered by the xdg package version we pin,
	// so resolve it manually
	if stateDir := os.Getenv("XDG_STATE_HOME"); stateDir != "" {
		p.xdgState = filepath.Join(stateDir, HeliodDirName)
	} else {
		homeDir, _ := os.UserHomeDir()
		p.xdgState = filepath.Join(homeDir, ".local", "state", HeliodDirName)
	}
}

// expandHome expands ~ to the home directory
func expandHome(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			// Fallback to HOME env var
			homeDir = os.Getenv(EnvHome)
			if homeDir == "" {
				// Can't expand, return as-is
				return path
			}
		}

		if len(path) == 1 {
			return homeDir
		}

		// Handle both ~/ and ~
		if path[1] == '/' || path[1] == filepath.Separator {
			return filepath.Join(homeDir, path[2:])
		}

		// ~something (not the user's home)
		return path
	}

	return path
}

// ConfigHome returns the heliod configuration directory
func (p *paths) ConfigHome() string {
	return p.configHome
}

// HasUserConfig returns true if heliod.yml existed in the config
// directory when this instance was constructed
func (p *paths) HasUserConfig() bool {
	return p.hasUserConfig
}

// ConfigFilePath returns the path to the top-level configuration file
func (p *paths) ConfigFilePath() string {
	return filepath.Join(p.configHome, ConfigFileName)
}

// ModulesDir returns the directory holding external module sources
func (p *paths) ModulesDir() string {
	return filepath.Join(p.configHome, ModulesDirName)
}

// ModuleSourceDir returns the source directory for an external module.
// Categories group related modules one level below the modules directory.
func (p *paths) ModuleSourceDir(category, name string) string {
	if category == "" {
		return filepath.Join(p.ModulesDir(), name)
	}
	return filepath.Join(p.ModulesDir(), category, name)
}

// DataDir returns the XDG data directory for heliod
func (p *paths) DataDir() string {
	return p.xdgData
}

// BackupsDir returns the directory where overwritten files are moved
func (p *paths) BackupsDir() string {
	return filepath.Join(p.xdgData, BackupsDirName)
}

// CreatedFilesPath returns the path of the created-files store
func (p *paths) CreatedFilesPath() string {
	return filepath.Join(p.xdgData, CreatedFilesFileName)
}

// SetupPath returns the path of the once-ever action store
func (p *paths) SetupPath() string {
	return filepath.Join(p.xdgData, SetupFileName)
}

// PidFilePath returns the path of the running-instance pid file
func (p *paths) PidFilePath() string {
	return filepath.Join(p.xdgData, PidFileName)
}

// LogFilePath returns the path to the heliod log file.
// Respects XDG_STATE_HOME if set.
func (p *paths) LogFilePath() string {
	return filepath.Join(p.xdgState, LogFileName)
}

// TempDir returns the directory for compiled templates that have no
// explicit target
func (p *paths) TempDir() string {
	return filepath.Join(os.TempDir(), TempDirName)
}

// NormalizePath normalizes a path by expanding home, making it absolute,
// and cleaning it
func (p *paths) NormalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New(errors.ErrInvalidInput, "empty path")
	}

	expanded := expandHome(path)

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrFileAccess, "failed to get absolute path")
	}

	return filepath.Clean(abs), nil
}

// IsInConfigHome checks if a path is within the configuration directory
func (p *paths) IsInConfigHome(path string) (bool, error) {
	normalized, err := p.NormalizePath(path)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(p.configHome, normalized)
	if err != nil {
		return false, nil
	}

	// If the relative path starts with .., it's outside the config dir
	return !strings.HasPrefix(rel, ".."), nil
}

// ExpandHome is a utility function that expands ~ in paths
func ExpandHome(path string) string {
	return expandHome(path)
}

// Resolve expands environment variables and ~ in path, then anchors a
// relative result against anchor. Absolute paths are returned cleaned.
// Option strings in module configurations go through this before use.
func Resolve(anchor, path string) string {
	expanded := expandHome(os.ExpandEnv(path))
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded)
	}
	return filepath.Join(anchor, expanded)
}
