package actions

import (
	"path/filepath"
)

// TriggerOptions configure a trigger action.
type TriggerOptions struct {
	// Block names the lifecycle block to trigger: "on_startup",
	// "on_event", "on_exit" or "on_modified".
	Block string `mapstructure:"block"`

	// Path selects which on_modified block to trigger. Ignored for
	// the other blocks.
	Path string `mapstructure:"path"`
}

// Trigger instructs the owning module to execute another of its
// action blocks. Triggers carry no behavior of their own.
type Trigger struct {
	// Block is the lifecycle block to execute.
	Block string

	// SpecifiedPath is the path exactly as configured, empty unless
	// Block is "on_modified".
	SpecifiedPath string

	// RelativePath is SpecifiedPath relative to the module directory.
	RelativePath string

	// AbsolutePath is SpecifiedPath anchored at the module directory.
	AbsolutePath string
}

// triggerAction resolves trigger options into Trigger instructions.
// It never touches the filesystem.
type triggerAction struct {
	base
	opts TriggerOptions
}

func newTriggerAction(options map[string]interface{}, env Env) (*triggerAction, error) {
	action := &triggerAction{base: newBase("trigger", options, env)}
	if err := decodeOptions(action.kind, options, &action.opts); err != nil {
		return nil, err
	}
	return action, nil
}

// resolve returns the trigger instruction, or ok=false for null
// actions and on_modified triggers that miss their path.
func (a *triggerAction) resolve() (Trigger, bool) {
	if a.null {
		return Trigger{}, false
	}

	block := a.text(a.opts.Block)
	if block != "on_modified" {
		return Trigger{Block: block}, true
	}

	specified := a.opts.Path
	if a.env.Replace != nil {
		specified = a.env.Replace(specified)
	}
	if specified == "" {
		a.logger.Error().
			Str("module", a.env.Module).
			Msg("on_modified trigger misses the path option")
		return Trigger{}, false
	}

	absolute := a.path(a.opts.Path)
	relative, err := filepath.Rel(a.env.Directory, absolute)
	if err != nil {
		relative = specified
	}
	return Trigger{
		Block:         block,
		SpecifiedPath: specified,
		RelativePath:  relative,
		AbsolutePath:  absolute,
	}, true
}
