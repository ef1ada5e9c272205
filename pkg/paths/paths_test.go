package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		configHome string
		envSetup   map[string]string
		validate   func(t *testing.T, p Paths)
	}{
		{
			name:       "explicit config home",
			configHome: "/tmp/heliod-config",
			validate: func(t *testing.T, p Paths) {
				assert.Equal(t, "/tmp/heliod-config", p.ConfigHome())
			},
		},
		{
			name: "from HELIOD_CONFIG_HOME env",
			envSetup: map[string]string{
				EnvConfigHome: "/env/heliod",
			},
			validate: func(t *testing.T, p Paths) {
				assert.Equal(t, "/env/heliod", p.ConfigHome())
			},
		},
		{
			name: "xdg default",
			validate: func(t *testing.T, p Paths) {
				assert.True(t, filepath.IsAbs(p.ConfigHome()), "path should be absolute")
				assert.True(t, strings.HasSuffix(p.ConfigHome(), string(filepath.Separator)+HeliodDirName))
			},
		},
		{
			name:       "expand tilde in explicit path",
			configHome: "~/heliod-config",
			validate: func(t *testing.T, p Paths) {
				homeDir, _ := os.UserHomeDir()
				assert.Equal(t, filepath.Join(homeDir, "heliod-config"), p.ConfigHome())
			},
		},
		{
			name: "custom data dir",
			envSetup: map[string]string{
				EnvDataDir: "/custom/data",
			},
			validate: func(t *testing.T, p Paths) {
				assert.Equal(t, "/custom/data", p.DataDir())
				assert.Equal(t, "/custom/data/created_files.yml", p.CreatedFilesPath())
				assert.Equal(t, "/custom/data/setup.yml", p.SetupPath())
				assert.Equal(t, "/custom/data/heliod.pid", p.PidFilePath())
				assert.Equal(t, "/custom/data/backups", p.BackupsDir())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigHome, "")
			t.Setenv(EnvDataDir, "")

			for k, v := range tt.envSetup {
				t.Setenv(k, v)
			}

			p, err := New(tt.configHome)
			require.NoError(t, err)
			require.NotNil(t, p)

			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestHasUserConfig(t *testing.T) {
	t.Run("with config file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("config: {}\n"), 0644))

		p, err := New(dir)
		require.NoError(t, err)
		assert.True(t, p.HasUserConfig())
	})

	t.Run("without config file", func(t *testing.T) {
		p, err := New(t.TempDir())
		require.NoError(t, err)
		assert.False(t, p.HasUserConfig())
	})
}

func TestConfigPaths(t *testing.T) {
	p, err := New("/test/heliod")
	require.NoError(t, err)

	assert.Equal(t, "/test/heliod/heliod.yml", p.ConfigFilePath())
	assert.Equal(t, "/test/heliod/modules", p.ModulesDir())
	assert.Equal(t, "/test/heliod/modules/colors", p.ModuleSourceDir("", "colors"))
	assert.Equal(t, "/test/heliod/modules/themes/gruvbox", p.ModuleSourceDir("themes", "gruvbox"))
}

func TestLogFilePath(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")

	p, err := New("/test/heliod")
	require.NoError(t, err)

	assert.Equal(t, "/state/heliod/heliod.log", p.LogFilePath())
}

func TestNormalizePath(t *testing.T) {
	p, err := New("/test/heliod")
	require.NoError(t, err)

	t.Run("empty path is an error", func(t *testing.T) {
		_, err := p.NormalizePath("")
		assert.Error(t, err)
	})

	t.Run("tilde expansion", func(t *testing.T) {
		got, err := p.NormalizePath("~/file.txt")
		require.NoError(t, err)
		homeDir, _ := os.UserHomeDir()
		assert.Equal(t, filepath.Join(homeDir, "file.txt"), got)
	})

	t.Run("absolute path is cleaned", func(t *testing.T) {
		got, err := p.NormalizePath("/a/b/../c")
		require.NoError(t, err)
		assert.Equal(t, "/a/c", got)
	})
}

func TestIsInConfigHome(t *testing.T) {
	p, err := New("/test/heliod")
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"inside", "/test/heliod/templates/module.tmpl", true},
		{"the dir itself", "/test/heliod", true},
		{"outside", "/etc/passwd", false},
		{"sibling with shared prefix", "/test/heliod-other/file", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.IsInConfigHome(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		anchor string
		path   string
		env    map[string]string
		want   string
	}{
		{
			name:   "relative against anchor",
			anchor: "/config/heliod",
			path:   "templates/bar.conf",
			want:   "/config/heliod/templates/bar.conf",
		},
		{
			name:   "absolute stays put",
			anchor: "/config/heliod",
			path:   "/etc/hosts",
			want:   "/etc/hosts",
		},
		{
			name:   "env var expansion",
			anchor: "/config/heliod",
			path:   "${TARGET_DIR}/bar.conf",
			env:    map[string]string{"TARGET_DIR": "/out"},
			want:   "/out/bar.conf",
		},
		{
			name:   "dotdot within anchor",
			anchor: "/config/heliod/modules/foo",
			path:   "../shared/file",
			want:   "/config/heliod/modules/shared/file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, Resolve(tt.anchor, tt.path))
		})
	}
}

func TestExpandHome(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"bare tilde", "~", homeDir},
		{"tilde slash", "~/x", filepath.Join(homeDir, "x")},
		{"tilde other user untouched", "~other/x", "~other/x"},
		{"no tilde", "/a/b", "/a/b"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandHome(tt.path))
		})
	}
}
