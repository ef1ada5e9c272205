package actions

import (
	"github.com/heliod-dev/heliod/pkg/config"
	"github.com/heliod-dev/heliod/pkg/context"
	"github.com/heliod-dev/heliod/pkg/errors"
)

// ImportContextOptions configure an import_context action.
type ImportContextOptions struct {
	// FromPath is the YAML file to read context sections from.
	FromPath string `mapstructure:"from_path"`

	// FromSection restricts the import to a single section. Empty
	// imports every section of the file.
	FromSection string `mapstructure:"from_section"`

	// ToSection renames the imported section. Requires FromSection.
	ToSection string `mapstructure:"to_section"`
}

// ImportContext merges context sections from another YAML file into
// the application context. Imported values overwrite existing ones.
type ImportContext struct {
	base
	opts ImportContextOptions
}

// NewImportContext builds an import_context action from raw options.
func NewImportContext(options map[string]interface{}, env Env) (*ImportContext, error) {
	action := &ImportContext{base: newBase("import_context", options, env)}
	if err := decodeOptions(action.kind, options, &action.opts); err != nil {
		return nil, err
	}
	return action, nil
}

// Execute reads the context file and merges its sections into the
// store. Import runs even on dry runs since it only mutates memory.
func (a *ImportContext) Execute(dryRun bool) error {
	if a.null {
		return nil
	}

	path := a.path(a.opts.FromPath)
	document, err := config.ReadConfigFile(path, a.env.Runner)
	if err != nil {
		return errors.Wrapf(err, errors.ErrConfigLoad,
			"could not read context file %s", path)
	}

	imported := context.FromMap(config.ContextSectionsOf(document))
	if err := a.env.Store.ImportSections(imported, a.text(a.opts.FromSection), a.text(a.opts.ToSection)); err != nil {
		return errors.Wrapf(err, errors.ErrActionExecute,
			"could not import context from %s", path)
	}

	a.logger.Debug().
		Str("module", a.env.Module).
		Str("from_path", path).
		Msg("Imported context sections")
	return nil
}
