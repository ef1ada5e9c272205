package persistence

import (
	"bytes"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/paths"
)

// setupDocument is the on-disk shape of the setup store: module name to
// action kind to the option sets that have already been executed.
type setupDocument map[string]map[string][]interface{}

// ExecutedActions gates the setup actions of one module so each (action
// kind, options) pair executes at most once ever. Checks are collected
// in memory and persisted with Write.
type ExecutedActions struct {
	module string
	path   string
	old    map[string][]interface{}
	new    map[string][]interface{}
}

// NewExecutedActions reads the setup store and scopes it to module.
func NewExecutedActions(p paths.Paths, module string) (*ExecutedActions, error) {
	e := &ExecutedActions{
		module: module,
		path:   p.SetupPath(),
		new:    map[string][]interface{}{},
	}

	document := setupDocument{}
	if err := loadYAML(e.path, &document); err != nil {
		return nil, err
	}
	e.old = document[module]
	if e.old == nil {
		e.old = map[string][]interface{}{}
	}
	return e, nil
}

// IsNew reports whether the given action has never been executed, and
// marks it as executed in memory when so. Empty options always count as
// already executed.
func (e *ExecutedActions) IsNew(actionKind string, options interface{}) bool {
	if emptyOptions(options) {
		return false
	}
	if containsOptions(e.old[actionKind], options) ||
		containsOptions(e.new[actionKind], options) {
		return false
	}
	e.new[actionKind] = append(e.new[actionKind], options)
	return true
}

// Write persists every action checked through IsNew since construction
// or the last Write. The store file is re-read first so writes from
// other modules are kept.
func (e *ExecutedActions) Write() error {
	if len(e.new) == 0 {
		return nil
	}

	document := setupDocument{}
	if err := loadYAML(e.path, &document); err != nil {
		return err
	}
	section := document[e.module]
	if section == nil {
		section = map[string][]interface{}{}
		document[e.module] = section
	}
	for kind, options := range e.new {
		section[kind] = append(section[kind], options...)
	}

	if err := dumpYAML(e.path, document); err != nil {
		return err
	}
	e.new = map[string][]interface{}{}
	e.old = section
	return nil
}

// Reset forgets every executed action of the module, making all of its
// setup actions new again.
func (e *ExecutedActions) Reset() error {
	logger := logging.GetLogger("persistence")

	document := setupDocument{}
	if err := loadYAML(e.path, &document); err != nil {
		return err
	}
	if _, ok := document[e.module]; !ok {
		logger.Error().
			Str("module", e.module).
			Msg("No saved setup actions for module")
	} else {
		delete(document, e.module)
		logger.Info().
			Str("module", e.module).
			Msg("Reset setup actions for module")
	}

	if err := dumpYAML(e.path, document); err != nil {
		return err
	}
	e.old = map[string][]interface{}{}
	e.new = map[string][]interface{}{}
	return nil
}

func emptyOptions(options interface{}) bool {
	if options == nil {
		return true
	}
	value := reflect.ValueOf(options)
	switch value.Kind() {
	case reflect.Map, reflect.Slice, reflect.String:
		return value.Len() == 0
	default:
		return false
	}
}

// containsOptions compares option sets by their serialized form, so the
// in-memory configuration map matches its round-tripped copy from disk
// regardless of key order or integer width.
func containsOptions(executed []interface{}, options interface{}) bool {
	serialized, err := yaml.Marshal(options)
	if err != nil {
		serialized = nil
	}
	for _, candidate := range executed {
		if serialized != nil {
			if other, err := yaml.Marshal(candidate); err == nil {
				if bytes.Equal(serialized, other) {
					return true
				}
				continue
			}
		}
		if reflect.DeepEqual(candidate, options) {
			return true
		}
	}
	return false
}
