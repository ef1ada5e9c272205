// Package modules turns module declarations into schedulable units.
//
// A module owns one event listener and the action blocks of its
// lifecycle: on_setup runs at most once ever, on_startup at process
// start, on_event whenever the listener reports a new event, on_exit
// at shutdown and each on_modified block when its watched file
// changes. The Manager drives all modules of one configuration,
// remembers which events have already been handled and owns the
// directory watcher.
package modules

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/heliod-dev/heliod/pkg/actions"
	"github.com/heliod-dev/heliod/pkg/config"
	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/events"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/paths"
	"github.com/heliod-dev/heliod/pkg/persistence"
)

// Block names accepted by trigger actions, plus the per-path
// "on_modified" family.
const (
	blockStartup  = "on_startup"
	blockEvent    = "on_event"
	blockExit     = "on_exit"
	blockSetup    = "on_setup"
	blockModified = "on_modified"
)

// actionKinds are the option keys of one action block. Declared at the
// top level of a module they form a shorthand for on_startup.
var actionKinds = []string{
	"import_context",
	"compile",
	"copy",
	"symlink",
	"stow",
	"run",
	"trigger",
}

// Module is one declared module: an event listener deciding when its
// on_event block is due, and one action block per lifecycle slot.
type Module struct {
	name      string
	directory string

	listener     events.Listener
	listenerType string

	onSetup    *actions.SetupBlock
	onStartup  *actions.Block
	onEvent    *actions.Block
	onExit     *actions.Block
	onModified map[string]*actions.Block

	dependsOn []string

	logger zerolog.Logger
}

// NewModule builds a module from its resolved definition. The module
// is refused, with an error naming the reason, when its event listener
// or one of its action blocks is invalid or a requirement is unmet.
func NewModule(definition config.ModuleDefinition, services Services) (*Module, error) {
	module := &Module{
		name:       definition.Name,
		directory:  definition.Directory,
		onModified: map[string]*actions.Block{},
		logger:     logging.ModuleLogger(definition.Name),
	}

	listenerOptions := sectionOf(definition.Config["event_listener"])
	listener, err := events.New(listenerOptions)
	if err != nil {
		return nil, err
	}
	module.listener = listener
	module.listenerType = listenerTypeOf(listenerOptions)

	requirements, err := requirementsOf(definition.Config)
	if err != nil {
		return nil, err
	}
	report := checkRequirements(
		requirements, definition.Directory, services.Runner, services.RequiresTimeout)
	if !report.Satisfied {
		return nil, errors.Newf(errors.ErrRequirementUnmet, "%s", report)
	}
	module.dependsOn = moduleDependencies(requirements)

	env := actions.Env{
		Module:    definition.Name,
		Directory: definition.Directory,
		Replace:   module.interpolate,
		Store:     services.Store,
		Runner:    services.Runner,
		Created:   services.Created,
		TempDir:   services.Paths.TempDir(),
	}

	executed, err := persistence.NewExecutedActions(services.Paths, definition.Name)
	if err != nil {
		return nil, err
	}
	if module.onSetup, err = actions.NewSetupBlock(
		sectionOf(definition.Config[blockSetup]), env, executed); err != nil {
		return nil, err
	}
	if module.onStartup, err = actions.NewBlock(startupConfig(definition.Config), env); err != nil {
		return nil, err
	}
	if module.onEvent, err = actions.NewBlock(
		sectionOf(definition.Config[blockEvent]), env); err != nil {
		return nil, err
	}
	if module.onExit, err = actions.NewBlock(
		sectionOf(definition.Config[blockExit]), env); err != nil {
		return nil, err
	}
	for key, body := range sectionOf(definition.Config[blockModified]) {
		block, err := actions.NewBlock(sectionOf(body), env)
		if err != nil {
			return nil, err
		}
		module.onModified[paths.Resolve(definition.Directory, key)] = block
	}

	return module, nil
}

// Enabled reports whether a module declaration wants to be loaded. The
// enabled option defaults to true and accepts a handful of falsy
// spellings.
func Enabled(config map[string]interface{}) bool {
	value, ok := config["enabled"]
	if !ok {
		return true
	}
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		switch strings.ToLower(v) {
		case "false", "off", "disabled", "not", "0":
			return false
		}
	}
	return true
}

// startupConfig builds the on_startup block configuration, folding in
// action kinds declared directly at the module's top level. An
// explicit on_startup section wins per kind.
func startupConfig(config map[string]interface{}) map[string]interface{} {
	block := map[string]interface{}{}
	for kind, options := range sectionOf(config[blockStartup]) {
		block[kind] = options
	}
	for _, kind := range actionKinds {
		if _, ok := block[kind]; ok {
			continue
		}
		if options, ok := config[kind]; ok {
			block[kind] = options
		}
	}
	return block
}

// sectionOf normalizes a decoded YAML section body into a string keyed
// map. Absent and empty sections become empty maps.
func sectionOf(value interface{}) map[string]interface{} {
	switch m := value.(type) {
	case map[string]interface{}:
		return m
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for key, v := range m {
			if name, ok := key.(string); ok {
				out[name] = v
			}
		}
		return out
	default:
		return map[string]interface{}{}
	}
}

func listenerTypeOf(options map[string]interface{}) string {
	if t, ok := options["type"].(string); ok && t != "" {
		return t
	}
	return events.TypeStatic
}

// Name returns the module's resolved name, subdir::name for modules
// from a module directory.
func (m *Module) Name() string { return m.name }

// Directory returns the directory the module's relative paths anchor to.
func (m *Module) Directory() string { return m.directory }

// ListenerType names the module's event listener type.
func (m *Module) ListenerType() string { return m.listenerType }

// Event returns the module's current event name.
func (m *Module) Event() string { return m.listener.Event() }

// TimeUntilNextEvent returns the duration until Event's answer changes.
func (m *Module) TimeUntilNextEvent() time.Duration {
	return m.listener.TimeUntilNextEvent()
}

// KeepRunning reports whether the module can still do something after
// startup: a watched file may change, or the event listener may report
// a new event.
func (m *Module) KeepRunning() bool {
	for _, block := range m.onModified {
		if !block.Empty() {
			return true
		}
	}
	return !m.onEvent.Empty() && !events.IsStatic(m.listener)
}

// WatchedPaths lists the absolute paths the module's on_modified
// blocks react to, ordered by name.
func (m *Module) WatchedPaths() []string {
	paths := make([]string, 0, len(m.onModified))
	for path := range m.onModified {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// ExecuteSetup runs the setup actions that have never run before and
// persists the ledger. Dry runs leave the ledger untouched.
func (m *Module) ExecuteSetup(dryRun bool, timeout time.Duration) {
	m.executePhases(m.expand(m.onSetup.Block, blockSetup), dryRun, timeout)
	if dryRun {
		return
	}
	if err := m.onSetup.Save(); err != nil {
		m.logger.Error().Err(err).Msg("Could not persist executed setup actions")
	}
}

// ExecuteStartup runs the module's startup block.
func (m *Module) ExecuteStartup(dryRun bool, timeout time.Duration) {
	m.executePhases(m.expand(m.onStartup, blockStartup), dryRun, timeout)
}

// ExecuteOnEvent runs the module's event block.
func (m *Module) ExecuteOnEvent(dryRun bool, timeout time.Duration) {
	m.executePhases(m.expand(m.onEvent, blockEvent), dryRun, timeout)
}

// ExecuteOnExit runs the module's exit block.
func (m *Module) ExecuteOnExit(dryRun bool, timeout time.Duration) {
	m.executePhases(m.expand(m.onExit, blockExit), dryRun, timeout)
}

// ExecuteOnModified runs the block watching path, reporting whether
// such a block exists.
func (m *Module) ExecuteOnModified(path string, dryRun bool, timeout time.Duration) bool {
	block, ok := m.onModified[path]
	if !ok {
		return false
	}
	m.logger.Info().Str("path", path).Msg("Watched file modified")
	m.executePhases(m.expand(block, blockModified+":"+path), dryRun, timeout)
	return true
}

// RecompileModified refreshes every target compiled from path without
// running any other action. It reports whether something was
// recompiled.
func (m *Module) RecompileModified(path string, dryRun bool) bool {
	recompiled := false
	for _, block := range m.allBlocks() {
		if block.RecompileModified(path, dryRun) {
			recompiled = true
		}
	}
	return recompiled
}

// PerformedCompilations maps each compiled template to the targets the
// module's blocks have produced so far.
func (m *Module) PerformedCompilations() map[string][]string {
	all := map[string][]string{}
	for _, block := range m.allBlocks() {
		for template, targets := range block.PerformedCompilations() {
			for _, target := range targets {
				if !slices.Contains(all[template], target) {
					all[template] = append(all[template], target)
				}
			}
		}
	}
	return all
}

// TempTargets lists the temporary compile targets the module's blocks
// have allocated.
func (m *Module) TempTargets() []string {
	var targets []string
	for _, block := range m.allBlocks() {
		targets = append(targets, block.TempTargets()...)
	}
	return targets
}

func (m *Module) allBlocks() []*actions.Block {
	blocks := []*actions.Block{m.onSetup.Block, m.onStartup, m.onEvent, m.onExit}
	for _, path := range m.WatchedPaths() {
		blocks = append(blocks, m.onModified[path])
	}
	return blocks
}

// executePhases runs the expanded blocks phase by phase: every context
// import first, then every file producing action, then every shell
// command. Triggered blocks therefore import before anything compiles,
// mirroring the ordering within a single block.
func (m *Module) executePhases(blocks []*actions.Block, dryRun bool, timeout time.Duration) {
	for _, block := range blocks {
		block.ImportContexts(dryRun)
	}
	for _, block := range blocks {
		block.Compile(dryRun)
	}
	for _, block := range blocks {
		block.Run(dryRun, timeout)
	}
}

// expand resolves first plus every transitively triggered block, in
// trigger declaration order. Each block is scheduled at most once per
// expansion, so circular triggers terminate with an error log instead
// of recursing.
func (m *Module) expand(first *actions.Block, key string) []*actions.Block {
	ordered := []*actions.Block{first}
	visited := map[string]bool{key: true}
	for i := 0; i < len(ordered); i++ {
		for _, trigger := range ordered[i].Triggers() {
			target, targetKey, ok := m.blockFor(trigger)
			if !ok {
				m.logger.Error().
					Str("block", trigger.Block).
					Str("path", trigger.SpecifiedPath).
					Msg("Trigger refers to an unknown action block")
				continue
			}
			if visited[targetKey] {
				m.logger.Error().
					Str("block", targetKey).
					Msg("Circular trigger, block is already scheduled")
				continue
			}
			visited[targetKey] = true
			ordered = append(ordered, target)
		}
	}
	return ordered
}

func (m *Module) blockFor(trigger actions.Trigger) (*actions.Block, string, bool) {
	switch trigger.Block {
	case blockStartup:
		return m.onStartup, blockStartup, true
	case blockEvent:
		return m.onEvent, blockEvent, true
	case blockExit:
		return m.onExit, blockExit, true
	case blockSetup:
		return m.onSetup.Block, blockSetup, true
	case blockModified:
		block, ok := m.onModified[trigger.AbsolutePath]
		return block, blockModified + ":" + trigger.AbsolutePath, ok
	}
	return nil, "", false
}

// placeholderPattern finds {event} and {template path} placeholders.
// The ${NAME} branch keeps environment references out of the
// placeholder namespace, they are expanded later by the actions.
var placeholderPattern = regexp.MustCompile(`\$\{[^{}]*\}|\{([^{}]+)\}`)

// interpolate substitutes the {event} placeholder with the current
// event name and {path} placeholders with the space joined targets
// compiled from that template. Placeholders naming a template that was
// never compiled are logged and left untouched.
func (m *Module) interpolate(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "$") {
			return match
		}
		placeholder := match[1 : len(match)-1]
		if placeholder == "event" {
			return m.Event()
		}
		targets := m.PerformedCompilations()[paths.Resolve(m.directory, placeholder)]
		if len(targets) == 0 {
			m.logger.Warn().
				Str("placeholder", placeholder).
				Msg("Placeholder does not name a compiled template, leaving it untouched")
			return match
		}
		return strings.Join(targets, " ")
	})
}
