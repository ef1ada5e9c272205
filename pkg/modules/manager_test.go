package modules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliod-dev/heliod/pkg/config"
	"github.com/heliod-dev/heliod/pkg/context"
	"github.com/heliod-dev/heliod/pkg/paths"
	"github.com/heliod-dev/heliod/pkg/shell"
)

// scriptedListener stands in for a real event listener so tests can
// move through events without waiting for wall clock time.
type scriptedListener struct {
	event string
	until time.Duration
}

func (s *scriptedListener) Event() string { return s.event }

func (s *scriptedListener) TimeUntilNextEvent() time.Duration {
	if s.until > 0 {
		return s.until
	}
	return time.Minute
}

func (s *scriptedListener) ValidEvent(string) bool { return true }

func testManager(t *testing.T, configYML string) (*Manager, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv(paths.EnvDataDir, t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())
	writeFile(t, filepath.Join(home, paths.ConfigFileName), configYML)

	p, err := paths.New(home)
	require.NoError(t, err)
	runner := shell.New()
	cfg, err := config.Load(p, runner)
	require.NoError(t, err)

	manager, err := NewManager(cfg, p, runner, Options{})
	require.NoError(t, err)
	t.Cleanup(manager.Exit)
	return manager, home
}

func TestManagerStartupRunsOnce(t *testing.T) {
	manager, home := testManager(t, `
module/greeter:
  on_startup:
    run:
      shell: echo started >> boot.log
`)

	assert.True(t, manager.HasUnfinishedTasks())
	manager.FinishTasks()
	assert.False(t, manager.HasUnfinishedTasks())

	manager.FinishTasks()
	manager.Startup()

	assert.Equal(t, []string{"started"}, logLines(t, filepath.Join(home, "boot.log")))
}

func TestManagerStartupDoesNotFireOnEvent(t *testing.T) {
	manager, home := testManager(t, `
module/day:
  event_listener:
    type: weekday
  on_startup:
    run:
      shell: echo startup >> boot.log
  on_event:
    run:
      shell: echo event >> events.log
`)

	manager.FinishTasks()
	manager.FinishTasks()

	assert.Equal(t, []string{"startup"}, logLines(t, filepath.Join(home, "boot.log")))
	assert.NoFileExists(t, filepath.Join(home, "events.log"))
}

func TestManagerRunsOnEventOncePerTransition(t *testing.T) {
	manager, home := testManager(t, `
module/cycler:
  event_listener:
    type: weekday
  on_event:
    run:
      shell: echo {event} >> events.log
`)
	manager.FinishTasks()

	listener := &scriptedListener{event: "a"}
	manager.modules["cycler"].listener = listener
	manager.lastKnownEvents["cycler"] = "a"

	for _, event := range []string{"a", "a", "b", "b", "a"} {
		listener.event = event
		manager.FinishTasks()
	}

	assert.Equal(t, []string{"b", "a"}, logLines(t, filepath.Join(home, "events.log")))
	assert.False(t, manager.HasUnfinishedTasks())
}

func TestManagerOnModifiedDispatch(t *testing.T) {
	manager, home := testManager(t, `
module/themes:
  on_modified:
    colors.yml:
      run:
        shell: echo recolored >> modified.log
`)
	manager.FinishTasks()

	returned := manager.OnModified(filepath.Join(home, "colors.yml"))
	assert.Same(t, manager, returned)
	assert.Equal(t, []string{"recolored"}, logLines(t, filepath.Join(home, "modified.log")))

	returned = manager.OnModified(filepath.Join(home, "unwatched.yml"))
	assert.Same(t, manager, returned)
	assert.Equal(t, []string{"recolored"}, logLines(t, filepath.Join(home, "modified.log")))
}

func TestManagerRecompilesModifiedTemplates(t *testing.T) {
	manager, home := testManager(t, `
config/modules:
  recompile_modified_templates: true

module/status:
  on_startup:
    compile:
      content: status.template
      target: status.txt
`)
	template := filepath.Join(home, "status.template")
	writeFile(t, template, "one")
	manager.FinishTasks()
	require.Equal(t, "one", readFile(t, filepath.Join(home, "status.txt")))

	writeFile(t, template, "two")
	returned := manager.OnModified(template)

	assert.Same(t, manager, returned)
	assert.Equal(t, "two", readFile(t, filepath.Join(home, "status.txt")))
}

func TestManagerOnModifiedBlockSuppressesRecompile(t *testing.T) {
	manager, home := testManager(t, `
config/modules:
  recompile_modified_templates: true

module/status:
  on_startup:
    compile:
      content: status.template
      target: status.txt
  on_modified:
    status.template:
      run:
        shell: echo handled >> modified.log
`)
	template := filepath.Join(home, "status.template")
	writeFile(t, template, "one")
	manager.FinishTasks()

	writeFile(t, template, "three")
	manager.OnModified(template)

	assert.Equal(t, []string{"handled"}, logLines(t, filepath.Join(home, "modified.log")))
	// The explicit block owns the file, the fallback stays out of it.
	assert.Equal(t, "one", readFile(t, filepath.Join(home, "status.txt")))
}

func TestManagerReloadsConfigurationOnModification(t *testing.T) {
	manager, home := testManager(t, `
config/heliod:
  hot_reload_config: true

module/first:
  on_startup:
    run:
      shell: echo first >> boot.log
  on_exit:
    run:
      shell: echo bye >> exit.log
`)
	manager.FinishTasks()

	writeFile(t, filepath.Join(home, paths.ConfigFileName), `
config/heliod:
  hot_reload_config: true

module/second:
  on_startup:
    run:
      shell: echo second >> boot.log
`)
	next := manager.OnModified(filepath.Join(home, paths.ConfigFileName))
	t.Cleanup(next.Exit)

	assert.NotSame(t, manager, next)
	assert.Equal(t, []string{"first", "second"}, logLines(t, filepath.Join(home, "boot.log")))
	assert.Equal(t, []string{"bye"}, logLines(t, filepath.Join(home, "exit.log")))
	assert.Contains(t, next.modules, "second")
	assert.NotContains(t, next.modules, "first")
}

func TestManagerKeepsModulesWhenReloadFails(t *testing.T) {
	manager, home := testManager(t, `
config/heliod:
  hot_reload_config: true

module/survivor:
  on_startup:
    run:
      shell: echo here >> boot.log
`)
	manager.FinishTasks()

	writeFile(t, filepath.Join(home, paths.ConfigFileName), "config/heliod: [")
	next := manager.OnModified(filepath.Join(home, paths.ConfigFileName))

	assert.Same(t, manager, next)
	assert.Contains(t, manager.modules, "survivor")
}

func TestManagerKeepsModulesWhenRebuildFails(t *testing.T) {
	manager, home := testManager(t, `
config/heliod:
  hot_reload_config: true

module/survivor:
  on_startup:
    run:
      shell: echo here >> boot.log
  on_exit:
    run:
      shell: echo bye >> exit.log
`)
	manager.FinishTasks()

	// The configuration still parses, but the replacement manager
	// cannot load its persisted state.
	dataDir := os.Getenv(paths.EnvDataDir)
	writeFile(t, filepath.Join(dataDir, paths.CreatedFilesFileName), "{creations: [broken")
	next := manager.OnModified(filepath.Join(home, paths.ConfigFileName))

	assert.Same(t, manager, next)
	assert.Contains(t, manager.modules, "survivor")
	assert.NoFileExists(t, filepath.Join(home, "exit.log"),
		"a failed rebuild must leave the surviving modules' exit blocks unrun")

	manager.Exit()
	assert.Equal(t, []string{"bye"}, logLines(t, filepath.Join(home, "exit.log")))
}

func TestManagerIgnoresConfigFileWithoutHotReload(t *testing.T) {
	manager, home := testManager(t, `
module/steady:
  on_startup:
    run:
      shell: echo once >> boot.log
`)
	manager.FinishTasks()

	next := manager.OnModified(filepath.Join(home, paths.ConfigFileName))

	assert.Same(t, manager, next)
	assert.Equal(t, []string{"once"}, logLines(t, filepath.Join(home, "boot.log")))
}

func TestManagerSelectionSurvivesReload(t *testing.T) {
	home := t.TempDir()
	t.Setenv(paths.EnvDataDir, t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())
	configYML := `
config/heliod:
  hot_reload_config: true

module/wanted:
  on_startup:
    run:
      shell: echo wanted >> boot.log

module/ignored:
  on_startup:
    run:
      shell: echo ignored >> boot.log
`
	writeFile(t, filepath.Join(home, paths.ConfigFileName), configYML)

	p, err := paths.New(home)
	require.NoError(t, err)
	runner := shell.New()
	cfg, err := config.Load(p, runner)
	require.NoError(t, err)

	manager, err := NewManager(cfg, p, runner, Options{Selection: []string{"wanted"}})
	require.NoError(t, err)
	t.Cleanup(manager.Exit)
	manager.FinishTasks()

	require.Contains(t, manager.modules, "wanted")
	require.NotContains(t, manager.modules, "ignored")

	writeFile(t, filepath.Join(home, paths.ConfigFileName), configYML)
	next := manager.OnModified(filepath.Join(home, paths.ConfigFileName))
	t.Cleanup(next.Exit)

	assert.NotSame(t, manager, next)
	assert.Contains(t, next.modules, "wanted")
	assert.NotContains(t, next.modules, "ignored")
	assert.Equal(t, []string{"wanted", "wanted"}, logLines(t, filepath.Join(home, "boot.log")))
}

func TestManagerExitRunsBlocksAndRemovesTempTargets(t *testing.T) {
	manager, home := testManager(t, `
module/tidy:
  on_startup:
    compile:
      content: anon.template
  on_exit:
    run:
      shell: echo bye >> exit.log
`)
	writeFile(t, filepath.Join(home, "anon.template"), "content")
	manager.FinishTasks()

	targets := manager.modules["tidy"].TempTargets()
	require.Len(t, targets, 1)
	require.FileExists(t, targets[0])

	manager.Exit()
	assert.Equal(t, []string{"bye"}, logLines(t, filepath.Join(home, "exit.log")))
	assert.NoFileExists(t, targets[0])

	manager.Exit()
	assert.Equal(t, []string{"bye"}, logLines(t, filepath.Join(home, "exit.log")))
}

func TestManagerTimeUntilNextEvent(t *testing.T) {
	manager, _ := testManager(t, `
module/fast: {}

module/slow: {}
`)
	manager.modules["fast"].listener = &scriptedListener{event: "a", until: 2 * time.Minute}
	manager.modules["slow"].listener = &scriptedListener{event: "a", until: 5 * time.Minute}

	assert.Equal(t, 2*time.Minute, manager.TimeUntilNextEvent())
}

func TestManagerTimeUntilNextEventWithoutModules(t *testing.T) {
	manager, _ := testManager(t, "")
	assert.Equal(t, never, manager.TimeUntilNextEvent())
}

func TestManagerKeepRunning(t *testing.T) {
	static, _ := testManager(t, `
module/once:
  run:
    shell: "true"
`)
	assert.False(t, static.KeepRunning())

	listening, _ := testManager(t, `
module/day:
  event_listener:
    type: weekday
  on_event:
    run:
      shell: "true"
`)
	assert.True(t, listening.KeepRunning())

	recompiling, _ := testManager(t, `
config/modules:
  recompile_modified_templates: true

module/once:
  run:
    shell: "true"
`)
	assert.True(t, recompiling.KeepRunning())
}

func TestManagerAssemblesContext(t *testing.T) {
	home := t.TempDir()
	t.Setenv(paths.EnvDataDir, t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())
	writeFile(t, filepath.Join(home, paths.ConfigFileName), `
context/colors:
  primary: teal

module/greeter: {}
`)
	writeFile(t, filepath.Join(home, paths.ModulesDirName, "theme", paths.ModuleConfigFileName), `
context/colors:
  primary: crimson
  accent: gold

context/fonts:
  mono: Iosevka

module/palette: {}
`)

	p, err := paths.New(home)
	require.NoError(t, err)
	runner := shell.New()
	cfg, err := config.Load(p, runner)
	require.NoError(t, err)
	manager, err := NewManager(cfg, p, runner, Options{})
	require.NoError(t, err)
	t.Cleanup(manager.Exit)

	assert.Equal(t, 2, manager.Len())
	assert.Contains(t, manager.modules, "greeter")
	assert.Contains(t, manager.modules, "theme::palette")

	store := manager.Store()
	colors, ok := store.GetStore(context.String("colors"))
	require.True(t, ok)
	primary, _ := colors.Get(context.String("primary"))
	assert.Equal(t, "teal", primary)
	accent, _ := colors.Get(context.String("accent"))
	assert.Equal(t, "gold", accent)

	fonts, ok := store.GetStore(context.String("fonts"))
	require.True(t, ok)
	mono, _ := fonts.Get(context.String("mono"))
	assert.Equal(t, "Iosevka", mono)

	env, ok := store.GetStore(context.String("env"))
	require.True(t, ok)
	path, _ := env.Get(context.String("PATH"))
	assert.Equal(t, os.Getenv("PATH"), path)
}

func TestManagerRefusesUntrustedModules(t *testing.T) {
	home := t.TempDir()
	t.Setenv(paths.EnvDataDir, t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())
	writeFile(t, filepath.Join(home, paths.ConfigFileName), `
config/modules:
  enabled_modules:
    - name: 'theme::*'
      trusted: false
`)
	writeFile(t, filepath.Join(home, paths.ModulesDirName, "theme", paths.ModuleConfigFileName), `
module/palette:
  run:
    shell: echo never >> boot.log
`)

	p, err := paths.New(home)
	require.NoError(t, err)
	runner := shell.New()
	cfg, err := config.Load(p, runner)
	require.NoError(t, err)
	manager, err := NewManager(cfg, p, runner, Options{})
	require.NoError(t, err)
	t.Cleanup(manager.Exit)

	assert.Equal(t, 0, manager.Len())
}

func TestManagerSkipsUnloadableModules(t *testing.T) {
	manager, _ := testManager(t, `
module/disabled:
  enabled: false

module/broken:
  event_listener:
    type: lunar

module/demanding:
  requires:
    installed: heliod-program-that-does-not-exist

module/fine: {}
`)

	assert.Equal(t, 1, manager.Len())
	assert.Contains(t, manager.modules, "fine")
}

func TestManagerDropsModulesWithMissingDependencies(t *testing.T) {
	manager, _ := testManager(t, `
module/a:
  requires:
    module: b

module/b:
  requires:
    module: missing

module/c: {}
`)

	assert.Equal(t, 1, manager.Len())
	assert.Contains(t, manager.modules, "c")
}

func TestManagerWatchesConfigurationDirectory(t *testing.T) {
	manager, home := testManager(t, "")

	assert.Nil(t, manager.FileEvents())
	manager.FinishTasks()
	require.NotNil(t, manager.FileEvents())

	target := filepath.Join(home, "wallpaper.template")
	writeFile(t, target, "fresh")

	select {
	case path := <-manager.FileEvents():
		assert.Equal(t, target, path)
	case <-time.After(5 * time.Second):
		t.Fatal("expected a file event for the written file")
	}

	manager.Exit()
	assert.Nil(t, manager.FileEvents())
}
