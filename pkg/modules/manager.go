package modules

import (
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/heliod-dev/heliod/pkg/config"
	"github.com/heliod-dev/heliod/pkg/context"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/paths"
	"github.com/heliod-dev/heliod/pkg/persistence"
	"github.com/heliod-dev/heliod/pkg/shell"
	"github.com/heliod-dev/heliod/pkg/watcher"
)

// never is how long the scheduler may sleep when no module has a
// scheduled event.
const never = 36500 * 24 * time.Hour

// Services bundles the collaborators every module shares.
type Services struct {
	Paths           paths.Paths
	Store           *context.Store
	Runner          *shell.Runner
	Created         *persistence.CreatedFiles
	RequiresTimeout time.Duration
}

// Options selects manager behavior not derived from the configuration
// file.
type Options struct {
	// DryRun logs what every action would do instead of touching
	// files or running commands.
	DryRun bool

	// Selection, when non-empty, replaces the configured
	// enabled_modules with exactly the named modules. It survives hot
	// reloads, the invocation keeps its narrowed set.
	Selection []string
}

// Manager drives all enabled modules through their lifecycle. Method
// calls are serialized by an internal mutex; the watcher goroutine
// never mutates manager state itself, its events are read through
// FileEvents and handed back via OnModified by the scheduling loop.
type Manager struct {
	mu sync.Mutex

	paths   paths.Paths
	config  *config.UserConfig
	options Options
	runner  *shell.Runner
	store   *context.Store
	created *persistence.CreatedFiles

	modules map[string]*Module
	order   []string

	lastKnownEvents map[string]string
	startupDone     bool
	exited          bool

	watcher *watcher.Watcher

	logger zerolog.Logger
}

// NewManager builds every enabled module of cfg and snapshots their
// current events. A module that cannot be built is skipped with a
// warning; only an unusable created files store is fatal.
func NewManager(cfg *config.UserConfig, p paths.Paths, runner *shell.Runner, options Options) (*Manager, error) {
	manager := &Manager{
		paths:           p,
		config:          cfg,
		options:         options,
		runner:          runner,
		modules:         map[string]*Module{},
		lastKnownEvents: map[string]string{},
		logger:          logging.GetLogger("modules"),
	}

	created, err := persistence.NewCreatedFiles(p)
	if err != nil {
		return nil, err
	}
	manager.created = created

	manager.store = context.FromMap(cfg.ContextSections())

	if len(options.Selection) > 0 {
		cfg.Global.Modules.EnabledModules = config.ExplicitEnablingStatements(options.Selection)
	}
	enabled := cfg.ResolveModules(runner)
	manager.store.MergePreserve(context.FromMap(enabled.Context))
	manager.store.MergePreserve(environmentContext())

	services := Services{
		Paths:           p,
		Store:           manager.store,
		Runner:          runner,
		Created:         created,
		RequiresTimeout: cfg.Global.Modules.RequiresTimeout,
	}

	for _, definition := range enabled.Definitions {
		if _, exists := manager.modules[definition.Name]; exists {
			continue
		}
		if !Enabled(definition.Config) {
			manager.logger.Debug().
				Str("module", definition.Name).
				Msg("Skipping disabled module")
			continue
		}
		if !definition.Trusted {
			manager.logger.Warn().
				Str("module", definition.Name).
				Msg("Refusing module from an untrusted source")
			continue
		}
		module, err := NewModule(definition, services)
		if err != nil {
			manager.logger.Warn().Err(err).
				Str("module", definition.Name).
				Msg("Could not enable module")
			continue
		}
		manager.modules[definition.Name] = module
	}
	popMissingModuleDependencies(manager.modules)

	manager.order = make([]string, 0, len(manager.modules))
	for name := range manager.modules {
		manager.order = append(manager.order, name)
	}
	slices.Sort(manager.order)
	for name, module := range manager.modules {
		manager.lastKnownEvents[name] = module.Event()
	}

	manager.logger.Info().
		Int("count", len(manager.modules)).
		Msg("Enabled modules")
	return manager, nil
}

// environmentContext exposes the process environment as the env
// context section, so templates can read {{ env.HOME }}. A context/env
// section in the configuration wins over it.
func environmentContext() *context.Store {
	env := map[string]interface{}{}
	for _, entry := range os.Environ() {
		name, value, _ := strings.Cut(entry, "=")
		env[name] = value
	}
	return context.FromMap(map[string]interface{}{"env": env})
}

// Len returns the number of enabled modules.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.modules)
}

// Modules returns the enabled modules ordered by name.
func (m *Manager) Modules() []*Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	ordered := make([]*Module, 0, len(m.order))
	for _, name := range m.order {
		ordered = append(ordered, m.modules[name])
	}
	return ordered
}

// Store exposes the application context shared by all modules.
func (m *Manager) Store() *context.Store {
	return m.store
}

// Startup runs every module's setup and startup blocks once and
// starts the directory watcher. Later calls do nothing.
func (m *Manager) Startup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startupLocked()
}

func (m *Manager) startupLocked() {
	if m.startupDone {
		return
	}
	for _, name := range m.order {
		module := m.modules[name]
		module.ExecuteSetup(m.options.DryRun, m.runTimeout())
		module.ExecuteStartup(m.options.DryRun, m.runTimeout())
	}
	m.startupDone = true
	m.startWatcherLocked()
}

// startWatcherLocked begins watching the configuration directory.
// Without a working watcher heliod still runs, scheduled events only.
func (m *Manager) startWatcherLocked() {
	w, err := watcher.New(m.config.Directory)
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		m.logger.Error().Err(err).
			Str("directory", m.config.Directory).
			Msg("Could not watch the configuration directory")
		return
	}
	m.watcher = w
}

// FileEvents returns the stream of modified file paths. It is nil
// before Startup and after Exit; a nil channel blocks forever in a
// select, which is exactly what an idle scheduling loop wants.
func (m *Manager) FileEvents() <-chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Events()
}

// HasUnfinishedTasks reports whether startup is still pending or some
// module's event moved since it was last handled.
func (m *Manager) HasUnfinishedTasks() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.startupDone {
		return true
	}
	return !maps.Equal(m.lastKnownEvents, m.currentEventsLocked())
}

func (m *Manager) currentEventsLocked() map[string]string {
	current := make(map[string]string, len(m.modules))
	for name, module := range m.modules {
		current[name] = module.Event()
	}
	return current
}

// FinishTasks performs everything due: the one time startup on the
// first call, afterwards the on_event blocks of every module whose
// event changed since its last execution. Modules with unchanged
// events are left alone, so each transition fires exactly once.
func (m *Manager) FinishTasks() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.startupDone {
		m.startupLocked()
		return
	}

	for _, name := range m.order {
		module := m.modules[name]
		current := module.Event()
		if m.lastKnownEvents[name] == current {
			continue
		}
		m.logger.Info().
			Str("module", name).
			Str("event", current).
			Msg("Event change detected")
		module.ExecuteOnEvent(m.options.DryRun, m.runTimeout())
		m.lastKnownEvents[name] = current
	}
}

// TimeUntilNextEvent returns the time until the first event change of
// any module, the sleep length of the scheduling loop.
func (m *Manager) TimeUntilNextEvent() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := never
	for _, module := range m.modules {
		if until := module.TimeUntilNextEvent(); until < next {
			next = until
		}
	}
	return next
}

// KeepRunning reports whether future work can still arrive: a module
// that reacts to events or watched files, or the global
// recompile_modified_templates fallback.
func (m *Manager) KeepRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.Global.Modules.RecompileModifiedTemplates {
		return true
	}
	for _, module := range m.modules {
		if module.KeepRunning() {
			return true
		}
	}
	return false
}

// OnModified dispatches one watched file modification. The returned
// manager is the receiver, or its replacement when the configuration
// file itself changed and hot reloading is enabled.
func (m *Manager) OnModified(path string) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()

	if path != "" && path == m.config.Path && m.config.Global.App.HotReloadConfig {
		return m.reloadLocked()
	}

	fired := false
	for _, name := range m.order {
		if m.modules[name].ExecuteOnModified(path, m.options.DryRun, m.runTimeout()) {
			fired = true
		}
	}
	if fired || !m.config.Global.Modules.RecompileModifiedTemplates {
		return m
	}

	for _, name := range m.order {
		if m.modules[name].RecompileModified(path, m.options.DryRun) {
			m.logger.Info().
				Str("module", name).
				Str("path", path).
				Msg("Recompiled modified template")
		}
	}
	return m
}

// reloadLocked rebuilds the whole manager from the configuration file
// as it stands now. The replacement manager is built before anything
// is torn down, so a half edited configuration or a failed rebuild
// leaves the old manager fully in charge, watcher included. Only then
// do the outgoing modules' exit blocks run.
func (m *Manager) reloadLocked() *Manager {
	m.logger.Info().
		Str("path", m.config.Path).
		Msg("Configuration file modified, reloading")

	cfg, err := config.Load(m.paths, m.runner)
	if err != nil {
		m.logger.Error().Err(err).
			Msg("Could not reload the configuration, keeping the current modules")
		return m
	}

	next, err := NewManager(cfg, m.paths, m.runner, m.options)
	if err != nil {
		m.logger.Error().Err(err).
			Msg("Could not rebuild the modules from the new configuration, keeping the current ones")
		return m
	}

	m.exitLocked()
	next.FinishTasks()
	return next
}

// Exit runs every module's exit block, removes the temporary compile
// targets and stops the watcher. Calling it twice is harmless.
func (m *Manager) Exit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exitLocked()
}

func (m *Manager) exitLocked() {
	if m.exited {
		return
	}
	m.exited = true

	for _, name := range m.order {
		module := m.modules[name]
		module.ExecuteOnExit(m.options.DryRun, m.runTimeout())
		for _, target := range module.TempTargets() {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				m.logger.Debug().Err(err).
					Str("path", target).
					Msg("Could not remove temporary file")
			}
		}
	}

	if m.watcher != nil {
		m.watcher.Stop()
		m.watcher = nil
	}
}

func (m *Manager) runTimeout() time.Duration {
	return m.config.Global.Modules.RunTimeout
}
