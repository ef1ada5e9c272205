// Package templates renders configuration-file templates with the
// pongo2 engine, fed from the shared context store. Undefined leaf
// values render as empty strings; engine errors propagate to the
// caller, which decides whether the failure is fatal to its block.
package templates

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/rs/zerolog"

	"github.com/heliod-dev/heliod/pkg/context"
	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/shell"
)

// Renderer compiles templates against a shared context store. Shell
// filter commands run in the renderer's working directory, normally
// the module's anchor directory.
type Renderer struct {
	store      *context.Store
	workingDir string
	runner     *shell.Runner
	logger     zerolog.Logger
}

// New creates a Renderer bound to store, resolving shell filter
// commands in workingDir.
func New(store *context.Store, workingDir string, runner *shell.Runner) *Renderer {
	if runner == nil {
		runner = shell.New()
	}
	return &Renderer{
		store:      store,
		workingDir: workingDir,
		runner:     runner,
		logger:     logging.GetLogger("templates"),
	}
}

// Render compiles the template at path and returns the rendered bytes.
// A missing template reports ErrTemplateNotFound so callers can skip
// it without treating the block as failed.
func (r *Renderer) Render(path string) ([]byte, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTemplateNotFound, "cannot read template %s", path)
	}

	rewritten, indexed := resolveIndexedPaths(source, r.store)

	tpl, err := pongo2.FromBytes(rewritten)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTemplateRender, "cannot parse template %s", path)
	}

	exported := r.store.TemplateContext()
	for name, value := range indexed {
		exported[name] = value
	}

	// The shell filter is registered globally, so its working
	// directory is pinned for the duration of this render.
	shellFilterState.Lock()
	shellFilterState.runner = r.runner
	shellFilterState.dir = r.workingDir
	out, err := tpl.Execute(pongo2.Context(exported))
	shellFilterState.Unlock()

	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTemplateRender, "cannot render template %s", path)
	}

	r.logger.Info().Str("template", path).Msg("Compiled template")
	return []byte(out), nil
}

// templateExpr finds the expression and statement blocks of a template.
var templateExpr = regexp.MustCompile(`(?s)\{\{.*?\}\}|\{%.*?%\}`)

// dottedPath finds variable paths like colors.42.hex in expression text.
var dottedPath = regexp.MustCompile(`[A-Za-z_]\w*(?:\.\w+)+`)

// resolveIndexedPaths rewrites every variable path containing a literal
// integer segment into a plain identifier bound to the store's value
// for that path, fallback rule included. The engine resolves integer
// segments only on slices, so paths like colors.9000 are answered from
// the store here: the rewritten template reads the bound identifier
// and the engine never sees an index. Paths the store cannot resolve
// stay unbound and render as empty values.
func resolveIndexedPaths(source []byte, store *context.Store) ([]byte, map[string]interface{}) {
	bound := map[string]interface{}{}
	rewritePath := func(path string) string {
		segments := strings.Split(path, ".")
		prefix := lastIndexSegment(segments)
		if prefix == 0 {
			return path
		}
		name := boundName(segments[:prefix])
		if value, ok := resolveSegments(store, segments[:prefix]); ok {
			bound[name] = value
		}
		if prefix == len(segments) {
			return name
		}
		return name + "." + strings.Join(segments[prefix:], ".")
	}

	rewritten := templateExpr.ReplaceAllStringFunc(string(source), func(block string) string {
		return mapUnquoted(block, func(code string) string {
			return dottedPath.ReplaceAllStringFunc(code, rewritePath)
		})
	})
	return []byte(rewritten), bound
}

// lastIndexSegment returns the length of the path prefix ending at the
// last literal integer segment, or 0 when the path has none. The
// suffix past that prefix is plain name access the engine handles.
func lastIndexSegment(segments []string) int {
	last := 0
	for i, segment := range segments {
		if i > 0 && isIndexSegment(segment) {
			last = i + 1
		}
	}
	return last
}

func boundName(segments []string) string {
	return "heliod_ctx_" + strings.Join(segments, "_")
}

func isIndexSegment(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// resolveSegments walks one variable path through the store, applying
// integer fallback at every level.
func resolveSegments(store *context.Store, segments []string) (interface{}, bool) {
	node := store
	for i, segment := range segments {
		key := context.String(segment)
		if isIndexSegment(segment) {
			if n, err := strconv.ParseInt(segment, 10, 64); err == nil {
				key = context.Index(n)
			}
		}
		if i == len(segments)-1 {
			return node.Export(key)
		}
		next, ok := node.GetStore(key)
		if !ok {
			return nil, false
		}
		node = next
	}
	return nil, false
}

// mapUnquoted applies fn to the stretches of code outside quoted
// string literals, so a dotted path inside "..." stays a literal.
func mapUnquoted(code string, fn func(string) string) string {
	var out strings.Builder
	for {
		i := strings.IndexAny(code, `"'`)
		if i < 0 {
			out.WriteString(fn(code))
			return out.String()
		}
		out.WriteString(fn(code[:i]))
		closing := strings.IndexByte(code[i+1:], code[i])
		if closing < 0 {
			out.WriteString(code[i:])
			return out.String()
		}
		out.WriteString(code[i : i+closing+2])
		code = code[i+closing+2:]
	}
}

// shellFilterState carries the active renderer's shell runner and
// working directory into the globally registered filter.
var shellFilterState struct {
	sync.Mutex
	runner *shell.Runner
	dir    string
}

func init() {
	_ = pongo2.RegisterFilter("shell", shellFilter)
}

// shellFilter implements `{{ "command"|shell }}`, substituting the
// command's stdout. An optional parameter overrides the timeout in
// seconds: `{{ "command"|shell:10 }}`.
func shellFilter(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	command := in.String()

	timeout := shell.DefaultTimeout
	if param != nil && !param.IsNil() {
		switch {
		case param.IsInteger():
			timeout = time.Duration(param.Integer()) * time.Second
		case param.IsFloat():
			timeout = time.Duration(param.Float() * float64(time.Second))
		}
	}

	runner := shellFilterState.runner
	dir := shellFilterState.dir
	if runner == nil {
		runner = shell.New()
	}

	return pongo2.AsValue(runner.Run(command, dir, timeout, "")), nil
}
