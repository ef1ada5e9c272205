package actions

import (
	"os"
	"path/filepath"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/internal/hashutil"
	"github.com/heliod-dev/heliod/pkg/persistence"
	"github.com/heliod-dev/heliod/pkg/templates"
)

// CompileOptions configure a compile action.
type CompileOptions struct {
	// Content is the template file or directory to compile.
	Content string `mapstructure:"content"`

	// Target is the destination file or directory. When empty a
	// temporary file is allocated and reused for the lifetime of the
	// action.
	Target string `mapstructure:"target"`

	// Templates decides which files of a content directory count as
	// templates. The pattern matches from the start of the file name
	// and its first capture group renames the compiled file. Defaults
	// to matching everything with the name kept.
	Templates string `mapstructure:"templates"`

	// NonTemplates is the policy for directory entries that do not
	// match Templates: "symlink" (default), "copy" or "ignore".
	NonTemplates string `mapstructure:"non_templates"`

	// Permissions overrides the target's mode bits, given as an octal
	// number, an octal string or a chmod style symbolic string. The
	// default keeps the template's own permissions.
	Permissions interface{} `mapstructure:"permissions"`
}

// Compile renders templates into target files through the application
// context. Compiled targets are recorded so cleanup can undo them and
// so run actions can refer to them through placeholders.
type Compile struct {
	base
	opts CompileOptions

	// tempTargets remembers allocated temporary targets per resolved
	// template path, keeping repeated executions idempotent.
	tempTargets map[string]string

	performed map[string][]string
}

// NewCompile builds a compile action from raw options.
func NewCompile(options map[string]interface{}, env Env) (*Compile, error) {
	action := &Compile{
		base:        newBase("compile", options, env),
		tempTargets: make(map[string]string),
		performed:   make(map[string][]string),
	}
	if err := decodeOptions(action.kind, options, &action.opts); err != nil {
		return nil, err
	}
	return action, nil
}

// Execute compiles the configured content and returns a map from each
// template to its target. A missing content path logs an error and
// compiles nothing.
func (a *Compile) Execute(dryRun bool) (map[string]string, error) {
	if a.null {
		return map[string]string{}, nil
	}

	content := a.path(a.opts.Content)
	target := a.target(content)

	info, err := os.Stat(content)
	if err != nil {
		a.logger.Error().
			Str("content", content).
			Str("target", target).
			Msg("Could not compile template, no such path")
		return map[string]string{}, nil
	}

	renderer := templates.New(a.env.Store, a.env.Directory, a.env.Runner)

	if !info.IsDir() {
		if err := a.compileFile(renderer, content, target, dryRun); err != nil {
			return map[string]string{}, err
		}
		a.record(content, target)
		return map[string]string{content: target}, nil
	}
	return a.compileDirectory(renderer, content, target, dryRun)
}

// target resolves the destination root, allocating a stable temporary
// file when the action does not name one.
func (a *Compile) target(content string) string {
	if a.opts.Target != "" {
		return a.path(a.opts.Target)
	}
	if allocated, ok := a.tempTargets[content]; ok {
		return allocated
	}
	name := filepath.Base(content) + "-" + hashutil.PathHash(a.env.Module+":"+content)
	allocated := filepath.Join(a.env.TempDir, name)
	a.tempTargets[content] = allocated
	return allocated
}

func (a *Compile) compileFile(renderer *templates.Renderer, template, target string, dryRun bool) error {
	if dryRun {
		a.logger.Info().
			Str("template", template).
			Str("target", target).
			Msg("SKIPPED: would compile template")
		return nil
	}

	rendered, err := renderer.Render(template)
	if errors.IsErrorCode(err, errors.ErrTemplateNotFound) {
		a.logger.Error().
			Str("template", template).
			Msg("Could not compile template, no such path")
		return nil
	}
	if err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(template); err == nil {
		mode = info.Mode().Perm()
	}

	a.backup(target)
	if err := a.ensureDir(filepath.Dir(target)); err != nil {
		return err
	}
	// Never write through a leftover symlink at the target path.
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		_ = os.Remove(target)
	}
	if err := os.WriteFile(target, rendered, mode); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite,
			"could not write compiled template to %s", target)
	}

	if final, err := a.mode(mode); err != nil {
		a.logger.Error().Err(err).Str("target", target).
			Msg("Invalid permissions option, keeping template permissions")
	} else if final != mode {
		if err := os.Chmod(target, final); err != nil {
			a.logger.Error().Err(err).Str("target", target).
				Msg("Could not set target permissions")
		}
	}

	if err := a.env.Created.Insert(a.env.Module, persistence.MethodCompiled,
		[]string{template}, []string{target}); err != nil {
		a.logger.Error().Err(err).Msg("Could not persist created file")
	}

	a.logger.Info().
		Str("template", template).
		Str("target", target).
		Msg("Compiled template")
	return nil
}

// compileDirectory compiles every template under source into target,
// preserving the directory hierarchy. Files that do not match the
// templates pattern are symlinked, copied or ignored according to the
// non_templates option.
func (a *Compile) compileDirectory(renderer *templates.Renderer, source, target string, dryRun bool) (map[string]string, error) {
	match, err := newMatcher(a.text(a.opts.Templates))
	if err != nil {
		return nil, err
	}

	files, err := walkFiles(source)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess,
			"could not list templates under %s", source)
	}

	policy := normalizeNonTemplates(a.text(a.opts.NonTemplates), a.logger)

	results := make(map[string]string)
	for _, file := range files {
		destination, isTemplate := destinationFor(match, source, file, target)
		if isTemplate {
			if err := a.compileFile(renderer, file, destination, dryRun); err != nil {
				a.logger.Error().Err(err).
					Str("template", file).
					Msg("Could not compile template")
				continue
			}
			a.record(file, destination)
			results[file] = destination
			continue
		}

		// Non-templates keep their name and place under the target.
		rel, err := filepath.Rel(source, file)
		if err != nil {
			continue
		}
		destination = filepath.Join(target, rel)

		var placeErr error
		switch policy {
		case "symlink":
			placeErr = a.placeSymlink(file, destination, dryRun)
		case "copy":
			placeErr = a.placeCopy(file, destination, a.opts.Permissions, dryRun)
		default:
			continue
		}
		if placeErr != nil {
			a.logger.Error().Err(placeErr).
				Str("source", file).
				Str("target", destination).
				Msg("Could not place non-template file")
			continue
		}
		a.record(file, destination)
		results[file] = destination
	}
	return results, nil
}

// mode resolves the permissions option against the template's mode.
func (a *Compile) mode(templateMode os.FileMode) (os.FileMode, error) {
	option := a.opts.Permissions
	if s, ok := option.(string); ok {
		option = a.text(s)
	}
	return parseMode(option, templateMode)
}

func (a *Compile) record(source, target string) {
	if !containsString(a.performed[source], target) {
		a.performed[source] = append(a.performed[source], target)
	}
}

// PerformedCompilations returns every template this action has
// compiled so far, mapped to the targets it produced. Non-template
// files placed by directory compilation count too.
func (a *Compile) PerformedCompilations() map[string][]string {
	return a.performed
}

// Manages reports whether this action has compiled or placed path, so
// a change to it warrants recompilation. Files inside a compiled
// directory count individually.
func (a *Compile) Manages(path string) bool {
	if a.null {
		return false
	}
	_, compiled := a.performed[path]
	return compiled
}

// TempTargets lists the temporary files allocated for compilations
// without an explicit target. They live until the manager exits.
func (a *Compile) TempTargets() []string {
	targets := make([]string, 0, len(a.tempTargets))
	for _, target := range a.tempTargets {
		targets = append(targets, target)
	}
	return targets
}
