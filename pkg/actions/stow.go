package actions

// StowOptions configure a stow action.
type StowOptions struct {
	// Content is the directory to stow.
	Content string `mapstructure:"content"`

	// Target is the destination directory.
	Target string `mapstructure:"target"`

	// Templates decides which files are compiled instead of placed
	// as-is. Defaults to names of the form "template.<rest>", renaming
	// the compiled file to <rest>.
	Templates string `mapstructure:"templates"`

	// NonTemplates is the placement policy for the remaining files:
	// "symlink" (default), "copy" or "ignore".
	NonTemplates string `mapstructure:"non_templates"`

	// Permissions applies to compiled files, in the same forms the
	// compile action accepts.
	Permissions interface{} `mapstructure:"permissions"`
}

// DefaultStowTemplates matches file names like "template.vimrc" and
// renames the compiled result to "vimrc".
const DefaultStowTemplates = `template\.(.+)`

// Stow populates a target directory from a content directory,
// compiling template files and symlinking or copying the rest. It is
// the compile action's directory mode with stow flavored defaults.
type Stow struct {
	base
	opts    StowOptions
	compile *Compile
}

// NewStow builds a stow action from raw options.
func NewStow(options map[string]interface{}, env Env) (*Stow, error) {
	action := &Stow{base: newBase("stow", options, env)}
	if err := decodeOptions(action.kind, options, &action.opts); err != nil {
		return nil, err
	}

	compileOptions := map[string]interface{}{}
	if !action.null {
		templates := action.opts.Templates
		if templates == "" {
			templates = DefaultStowTemplates
		}
		nonTemplates := action.opts.NonTemplates
		if nonTemplates == "" {
			nonTemplates = "symlink"
		}
		compileOptions = map[string]interface{}{
			"content":       action.opts.Content,
			"target":        action.opts.Target,
			"templates":     templates,
			"non_templates": nonTemplates,
		}
		if action.opts.Permissions != nil {
			compileOptions["permissions"] = action.opts.Permissions
		}
	}

	compile, err := NewCompile(compileOptions, env)
	if err != nil {
		return nil, err
	}
	action.compile = compile
	return action, nil
}

// Execute stows the content directory into the target and returns a
// map from each source file to its destination.
func (a *Stow) Execute(dryRun bool) (map[string]string, error) {
	if a.null {
		return map[string]string{}, nil
	}
	return a.compile.Execute(dryRun)
}

// PerformedCompilations returns the compilations and placements this
// action has performed so far.
func (a *Stow) PerformedCompilations() map[string][]string {
	return a.compile.PerformedCompilations()
}

// Manages reports whether path is stowed by this action.
func (a *Stow) Manages(path string) bool {
	return a.compile.Manages(path)
}

// TempTargets lists the temporary files the inner compile action has
// allocated.
func (a *Stow) TempTargets() []string {
	return a.compile.TempTargets()
}
