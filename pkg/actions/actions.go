// Package actions implements the module action kinds: importing context
// sections, compiling templates, copying, symlinking, stowing whole
// directories, running shell commands and declaring triggers. Actions
// are built from raw YAML option maps when a module loads and executed
// later by the module's action blocks.
//
// An action constructed from an empty option map is a null object. It
// keeps its slot in the block so that execution code never branches on
// "was this configured", and every Execute on it is a no-op.
package actions

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"

	"github.com/heliod-dev/heliod/pkg/context"
	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/paths"
	"github.com/heliod-dev/heliod/pkg/persistence"
	"github.com/heliod-dev/heliod/pkg/shell"
)

// Replacer rewrites placeholder occurrences in option strings. Modules
// install one that substitutes {event} and friends; it runs on every
// Execute so the same action picks up the current event each time.
type Replacer func(string) string

// Env carries everything an action needs from its owning module.
type Env struct {
	// Module is the module name used for ownership records.
	Module string

	// Directory anchors relative option paths, usually the module's
	// source directory.
	Directory string

	// Replace is applied to option strings on every access. A nil
	// Replace leaves strings untouched.
	Replace Replacer

	// Store is the application context used for template rendering and
	// mutated by import_context actions.
	Store *context.Store

	Runner  *shell.Runner
	Created *persistence.CreatedFiles

	// TempDir hosts compilation targets for compile actions that do
	// not name one.
	TempDir string
}

// base holds what every action kind shares. Concrete actions embed it
// and add their decoded options.
type base struct {
	kind   string
	null   bool
	raw    map[string]interface{}
	env    Env
	logger zerolog.Logger
}

func newBase(kind string, options map[string]interface{}, env Env) base {
	return base{
		kind:   kind,
		null:   len(options) == 0,
		raw:    options,
		env:    env,
		logger: logging.GetLogger("actions"),
	}
}

// Null reports whether the action was built from an empty option map
// and therefore does nothing.
func (b *base) Null() bool { return b.null }

// Kind returns the configuration key the action was built from.
func (b *base) Kind() string { return b.kind }

// Options returns the raw option map the action was built from.
func (b *base) Options() map[string]interface{} { return b.raw }

// text prepares a non-path option string: placeholder replacement
// followed by environment variable expansion.
func (b *base) text(s string) string {
	if b.env.Replace != nil {
		s = b.env.Replace(s)
	}
	return os.ExpandEnv(s)
}

// path prepares a path option string: placeholder replacement, then
// environment and ~ expansion, anchored at the module directory when
// relative.
func (b *base) path(s string) string {
	if b.env.Replace != nil {
		s = b.env.Replace(s)
	}
	return paths.Resolve(b.env.Directory, s)
}

// ensureDir creates dir and records every directory the call actually
// had to create, parents first, so cleanup can remove them again.
func (b *base) ensureDir(dir string) error {
	var missing []string
	for probe := dir; ; probe = filepath.Dir(probe) {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		missing = append(missing, probe)
		if probe == filepath.Dir(probe) {
			break
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrDirCreate, "could not create directory %s", dir)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := b.env.Created.TrackDirectory(b.env.Module, missing[i]); err != nil {
			return err
		}
	}
	return nil
}

// backup moves a foreign file out of the way before the module writes
// over its path. Errors are logged and swallowed so one stubborn file
// does not stop the block.
func (b *base) backup(target string) {
	if _, err := b.env.Created.Backup(b.env.Module, target); err != nil {
		b.logger.Error().Err(err).Str("target", target).
			Msg("Could not back up existing file")
	}
}

func decodeOptions(kind string, options map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "could not build options decoder")
	}
	if err := decoder.Decode(options); err != nil {
		return errors.Wrapf(err, errors.ErrActionInvalid, "invalid %s action options", kind)
	}
	return nil
}

// castToList normalizes an action configuration value to a list of
// option maps. A missing or empty value yields one empty map, which
// constructs the kind's null action. A bare string is shorthand for a
// single mapping under the kind's primary option, so `run: echo hi`
// reads as `run: {shell: echo hi}`.
func castToList(value interface{}, shorthand string) ([]map[string]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return []map[string]interface{}{{}}, nil
	case string:
		return []map[string]interface{}{{shorthand: v}}, nil
	case map[string]interface{}:
		return []map[string]interface{}{v}, nil
	case []interface{}:
		if len(v) == 0 {
			return []map[string]interface{}{{}}, nil
		}
		result := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			m, err := asMap(item, shorthand)
			if err != nil {
				return nil, err
			}
			result = append(result, m)
		}
		return result, nil
	case []map[string]interface{}:
		if len(v) == 0 {
			return []map[string]interface{}{{}}, nil
		}
		return v, nil
	default:
		return nil, errors.Newf(errors.ErrActionInvalid,
			"action options must be a mapping or a list of mappings, got %T", value)
	}
}

func asMap(value interface{}, shorthand string) (map[string]interface{}, error) {
	switch v := value.(type) {
	case string:
		return map[string]interface{}{shorthand: v}, nil
	case map[string]interface{}:
		return v, nil
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			s, ok := key.(string)
			if !ok {
				return nil, errors.Newf(errors.ErrActionInvalid,
					"action option keys must be strings, got %T", key)
			}
			result[s] = val
		}
		return result, nil
	default:
		return nil, errors.Newf(errors.ErrActionInvalid,
			"action options must be a mapping, got %T", value)
	}
}

// matcher wraps a user supplied filename pattern. The pattern matches
// from the start of the name, like a path prefix, and its first
// capture group renames the file at the destination.
type matcher struct {
	re *regexp.Regexp
}

// newMatcher compiles pattern prefix-anchored. An empty pattern
// matches every name and keeps it unchanged.
func newMatcher(pattern string) (matcher, error) {
	if pattern == "" {
		pattern = "(.+)"
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return matcher{}, errors.Wrapf(err, errors.ErrActionInvalid,
			"invalid filename pattern %q", pattern)
	}
	return matcher{re: re}, nil
}

// rename returns the destination name for a matching source name, or
// ok=false when the name does not match. Without a participating
// capture group the name passes through unchanged.
func (m matcher) rename(name string) (string, bool) {
	submatch := m.re.FindStringSubmatch(name)
	if submatch == nil {
		return "", false
	}
	for _, group := range submatch[1:] {
		if group != "" {
			return group, true
		}
	}
	if len(submatch) > 1 {
		// Groups exist but none participated; treat like a literal match.
		return name, true
	}
	return name, true
}

// destinationFor maps a source file under root to its path under
// target, preserving the directory structure and applying the
// matcher's rename to the base name.
func destinationFor(m matcher, root, source, target string) (string, bool) {
	rel, err := filepath.Rel(root, source)
	if err != nil {
		return "", false
	}
	name, ok := m.rename(filepath.Base(rel))
	if !ok {
		return "", false
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return filepath.Join(target, name), true
	}
	return filepath.Join(target, dir, name), true
}

// walkFiles returns every regular file under root, or just root itself
// when it is a file.
func walkFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// normalizeNonTemplates validates the non_templates policy of compile
// and stow actions. Unknown values log an error and fall back to
// ignoring the files.
func normalizeNonTemplates(value string, logger zerolog.Logger) string {
	switch strings.ToLower(value) {
	case "":
		return "symlink"
	case "symlink", "copy", "ignore":
		return strings.ToLower(value)
	default:
		logger.Error().Str("non_templates", value).
			Msg(`Invalid non_templates option, must be one of "symlink", "copy" or "ignore"`)
		return "ignore"
	}
}
