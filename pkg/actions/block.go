package actions

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/persistence"
)

// Block holds the actions of one module lifecycle slot, such as
// on_startup or one on_modified path. Execution order across kinds is
// fixed: context imports, then compilations, then copies, symlinks and
// stows, and shell commands last. Every configured kind holds at least
// one action; unconfigured kinds hold their null action.
type Block struct {
	env Env

	imports  []*ImportContext
	compiles []*Compile
	copies   []*Copy
	symlinks []*Symlink
	stows    []*Stow
	runs     []*Run
	triggers []*triggerAction

	// gate decides per action whether it still needs to run. A nil
	// gate lets everything run.
	gate func(kind string, options map[string]interface{}) bool

	logger zerolog.Logger
}

// NewBlock builds all actions of one lifecycle block from its raw
// configuration. Invalid action options refuse the whole block.
func NewBlock(config map[string]interface{}, env Env) (*Block, error) {
	block := &Block{env: env, logger: logging.GetLogger("actions")}

	build := func(kind, shorthand string, construct func(map[string]interface{}) error) error {
		optionList, err := castToList(config[kind], shorthand)
		if err != nil {
			return err
		}
		for _, options := range optionList {
			if err := construct(options); err != nil {
				return err
			}
		}
		return nil
	}

	// shorthand names each kind's primary option, so a bare string in
	// the configuration stands for that option alone.
	steps := []struct {
		kind      string
		shorthand string
		construct func(map[string]interface{}) error
	}{
		{"import_context", "from_path", func(options map[string]interface{}) error {
			action, err := NewImportContext(options, env)
			if err == nil {
				block.imports = append(block.imports, action)
			}
			return err
		}},
		{"compile", "content", func(options map[string]interface{}) error {
			action, err := NewCompile(options, env)
			if err == nil {
				block.compiles = append(block.compiles, action)
			}
			return err
		}},
		{"copy", "content", func(options map[string]interface{}) error {
			action, err := NewCopy(options, env)
			if err == nil {
				block.copies = append(block.copies, action)
			}
			return err
		}},
		{"symlink", "content", func(options map[string]interface{}) error {
			action, err := NewSymlink(options, env)
			if err == nil {
				block.symlinks = append(block.symlinks, action)
			}
			return err
		}},
		{"stow", "content", func(options map[string]interface{}) error {
			action, err := NewStow(options, env)
			if err == nil {
				block.stows = append(block.stows, action)
			}
			return err
		}},
		{"run", "shell", func(options map[string]interface{}) error {
			action, err := NewRun(options, env)
			if err == nil {
				block.runs = append(block.runs, action)
			}
			return err
		}},
		{"trigger", "block", func(options map[string]interface{}) error {
			action, err := newTriggerAction(options, env)
			if err == nil {
				block.triggers = append(block.triggers, action)
			}
			return err
		}},
	}
	for _, step := range steps {
		if err := build(step.kind, step.shorthand, step.construct); err != nil {
			return nil, err
		}
	}
	return block, nil
}

func (b *Block) allows(kind string, options map[string]interface{}) bool {
	if b.gate == nil {
		return true
	}
	return b.gate(kind, options)
}

// ImportContexts runs the block's context imports. Failed imports log
// and do not stop the remaining ones.
func (b *Block) ImportContexts(dryRun bool) {
	for _, action := range b.imports {
		if !b.allows("import_context", action.Options()) {
			continue
		}
		if err := action.Execute(dryRun); err != nil {
			b.logger.Error().Err(err).
				Str("module", b.env.Module).
				Msg("Could not import context")
		}
	}
}

// Compile runs the block's file producing actions in their fixed
// order and returns the merged source to destination map. Failures
// log and do not stop the remaining actions.
func (b *Block) Compile(dryRun bool) map[string]string {
	results := make(map[string]string)
	merge := func(placed map[string]string, err error) {
		if err != nil {
			b.logger.Error().Err(err).
				Str("module", b.env.Module).
				Msg("Action failed")
			return
		}
		for source, destination := range placed {
			results[source] = destination
		}
	}

	for _, action := range b.compiles {
		if b.allows("compile", action.Options()) {
			merge(action.Execute(dryRun))
		}
	}
	for _, action := range b.copies {
		if b.allows("copy", action.Options()) {
			merge(action.Execute(dryRun))
		}
	}
	for _, action := range b.symlinks {
		if b.allows("symlink", action.Options()) {
			merge(action.Execute(dryRun))
		}
	}
	for _, action := range b.stows {
		if b.allows("stow", action.Options()) {
			merge(action.Execute(dryRun))
		}
	}
	return results
}

// Run executes the block's shell commands and returns their results.
func (b *Block) Run(dryRun bool, defaultTimeout time.Duration) []RunResult {
	var results []RunResult
	for _, action := range b.runs {
		if !b.allows("run", action.Options()) {
			continue
		}
		if result, ok := action.Execute(dryRun, defaultTimeout); ok {
			results = append(results, result)
		}
	}
	return results
}

// Triggers resolves the block's trigger instructions. Null triggers
// and invalid on_modified triggers are dropped.
func (b *Block) Triggers() []Trigger {
	var resolved []Trigger
	for _, action := range b.triggers {
		if trigger, ok := action.resolve(); ok {
			resolved = append(resolved, trigger)
		}
	}
	return resolved
}

// Execute runs the whole block: context imports, then file producing
// actions, then shell commands. Triggers are left for the owning
// module to expand.
func (b *Block) Execute(dryRun bool, defaultTimeout time.Duration) {
	b.ImportContexts(dryRun)
	b.Compile(dryRun)
	b.Run(dryRun, defaultTimeout)
}

// PerformedCompilations aggregates what the block's compile and stow
// actions have produced so far.
func (b *Block) PerformedCompilations() map[string][]string {
	all := make(map[string][]string)
	collect := func(performed map[string][]string) {
		for template, targets := range performed {
			for _, target := range targets {
				if !containsString(all[template], target) {
					all[template] = append(all[template], target)
				}
			}
		}
	}
	for _, action := range b.compiles {
		collect(action.PerformedCompilations())
	}
	for _, action := range b.stows {
		collect(action.PerformedCompilations())
	}
	return all
}

// Manages reports whether one of the block's compile or stow actions
// has compiled path, so a change to it warrants recompilation.
func (b *Block) Manages(path string) bool {
	for _, action := range b.compiles {
		if action.Manages(path) {
			return true
		}
	}
	for _, action := range b.stows {
		if action.Manages(path) {
			return true
		}
	}
	return false
}

// RecompileModified re-executes the compile and stow actions that
// produced path, refreshing their targets without running the block's
// other actions. It reports whether anything was recompiled.
func (b *Block) RecompileModified(path string, dryRun bool) bool {
	recompiled := false
	for _, action := range b.compiles {
		if !action.Manages(path) {
			continue
		}
		recompiled = true
		if _, err := action.Execute(dryRun); err != nil {
			b.logRecompileFailure(err, path)
		}
	}
	for _, action := range b.stows {
		if !action.Manages(path) {
			continue
		}
		recompiled = true
		if _, err := action.Execute(dryRun); err != nil {
			b.logRecompileFailure(err, path)
		}
	}
	return recompiled
}

func (b *Block) logRecompileFailure(err error, path string) {
	b.logger.Error().Err(err).
		Str("module", b.env.Module).
		Str("path", path).
		Msg("Could not recompile modified template")
}

// Empty reports whether the block was configured without any action.
func (b *Block) Empty() bool {
	for _, action := range b.imports {
		if !action.Null() {
			return false
		}
	}
	for _, action := range b.compiles {
		if !action.Null() {
			return false
		}
	}
	for _, action := range b.copies {
		if !action.Null() {
			return false
		}
	}
	for _, action := range b.symlinks {
		if !action.Null() {
			return false
		}
	}
	for _, action := range b.stows {
		if !action.Null() {
			return false
		}
	}
	for _, action := range b.runs {
		if !action.Null() {
			return false
		}
	}
	for _, action := range b.triggers {
		if !action.Null() {
			return false
		}
	}
	return true
}

// TempTargets lists the temporary compile targets the block's actions
// have allocated so far.
func (b *Block) TempTargets() []string {
	var targets []string
	for _, action := range b.compiles {
		targets = append(targets, action.TempTargets()...)
	}
	for _, action := range b.stows {
		targets = append(targets, action.TempTargets()...)
	}
	return targets
}

// SetupBlock is a Block whose actions run at most once per module.
// The executed actions ledger decides which actions are new; Save
// persists the checks performed so far.
type SetupBlock struct {
	*Block
	executed *persistence.ExecutedActions
}

// NewSetupBlock builds the module's on_setup block gated by its
// executed actions ledger.
func NewSetupBlock(config map[string]interface{}, env Env, executed *persistence.ExecutedActions) (*SetupBlock, error) {
	block, err := NewBlock(config, env)
	if err != nil {
		return nil, err
	}
	block.gate = func(kind string, options map[string]interface{}) bool {
		return executed.IsNew(kind, options)
	}
	return &SetupBlock{Block: block, executed: executed}, nil
}

// Save persists which setup actions have now been executed.
func (b *SetupBlock) Save() error {
	return b.executed.Write()
}
