// Package context implements the nested key-value store that supplies
// template variables. Levels are keyed by names or integer indices, and
// a lookup of a missing integer index resolves to the value under the
// greatest integer index inserted at that level. A color scheme
// declaring 16 colors can therefore serve any higher index.
package context

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/heliod-dev/heliod/pkg/errors"
)

// Key indexes one level of a Store. A key is either a name or an
// integer index; only integer indices participate in fallback
// resolution.
type Key struct {
	name  string
	index int64
	num   bool
}

// String returns a name key.
func String(name string) Key {
	return Key{name: name}
}

// Index returns an integer index key.
func Index(i int64) Key {
	return Key{index: i, num: true}
}

// IsIndex reports whether the key is an integer index.
func (k Key) IsIndex() bool {
	return k.num
}

// Int returns the integer index of the key, or 0 for name keys.
func (k Key) Int() int64 {
	return k.index
}

// Value returns the key in its exported type, string or int. Integer
// indices export as plain int so template index lookups, which resolve
// with int keys, can find them.
func (k Key) Value() interface{} {
	if k.num {
		return int(k.index)
	}
	return k.name
}

func (k Key) String() string {
	if k.num {
		return strconv.FormatInt(k.index, 10)
	}
	return k.name
}

// Store is one level of the context tree. Values are scalars, slices,
// or nested *Store instances; inserting a map wraps it recursively so
// integer fallback applies at every depth.
type Store struct {
	entries map[Key]interface{}

	// maxKey is the greatest integer index inserted at this level,
	// valid only when hasMax is set
	maxKey int64
	hasMax bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[Key]interface{})}
}

// FromMap builds a Store from a string-keyed map, wrapping nested maps
// recursively.
func FromMap(m map[string]interface{}) *Store {
	s := New()
	for name, value := range m {
		s.Set(String(name), value)
	}
	return s
}

// FromYAML builds a Store from YAML document bytes. The document must
// hold a mapping at the top level; an empty document yields an empty
// Store.
func FromYAML(data []byte) (*Store, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "invalid YAML in context data")
	}

	switch m := raw.(type) {
	case nil:
		return New(), nil
	case map[string]interface{}:
		return FromMap(m), nil
	case map[interface{}]interface{}:
		return fromAnyMap(m), nil
	default:
		return nil, errors.Newf(errors.ErrConfigParse, "context data must be a mapping, got %T", raw)
	}
}

// FromYAMLFile builds a Store from a YAML file on disk.
func FromYAMLFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "cannot read context file %s", path)
	}
	return FromYAML(data)
}

func fromAnyMap(m map[interface{}]interface{}) *Store {
	s := New()
	for rawKey, value := range m {
		s.Set(normalizeKey(rawKey), value)
	}
	return s
}

// normalizeKey maps YAML-parsed key types onto Key. Integer-valued
// keys become indices; anything else is used by name.
func normalizeKey(raw interface{}) Key {
	switch k := raw.(type) {
	case string:
		return String(k)
	case int:
		return Index(int64(k))
	case int64:
		return Index(k)
	case uint64:
		if k <= math.MaxInt64 {
			return Index(int64(k))
		}
		return String(strconv.FormatUint(k, 10))
	case float64:
		if k == math.Trunc(k) && !math.IsInf(k, 0) {
			return Index(int64(k))
		}
		return String(strconv.FormatFloat(k, 'g', -1, 64))
	default:
		return String(fmt.Sprint(k))
	}
}

// wrapValue turns map values into nested stores so the fallback rule
// holds at every level. Slices and scalars pass through untouched.
func wrapValue(value interface{}) interface{} {
	switch v := value.(type) {
	case *Store:
		return v
	case map[string]interface{}:
		return FromMap(v)
	case map[interface{}]interface{}:
		return fromAnyMap(v)
	default:
		return value
	}
}

// Set inserts value at key, tracking the greatest integer index seen.
func (s *Store) Set(key Key, value interface{}) {
	if key.num && (!s.hasMax || key.index > s.maxKey) {
		s.maxKey = key.index
		s.hasMax = true
	}
	s.entries[key] = wrapValue(value)
}

// Get returns the value at key. A missing integer index resolves to
// the value under the greatest integer index inserted at this level;
// name keys never fall back.
func (s *Store) Get(key Key) (interface{}, bool) {
	if value, ok := s.entries[key]; ok {
		return value, true
	}
	if key.num && s.hasMax {
		return s.entries[Index(s.maxKey)], true
	}
	return nil, false
}

// GetStore returns the nested store at key, if the value there is one.
func (s *Store) GetStore(key Key) (*Store, bool) {
	value, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	nested, ok := value.(*Store)
	return nested, ok
}

// Export returns the value at key in template export form, nested
// stores as plain maps. Fallback resolution applies.
func (s *Store) Export(key Key) (interface{}, bool) {
	value, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	return exportValue(value), true
}

// Has reports whether key was inserted at this level. Fallback
// resolution does not apply.
func (s *Store) Has(key Key) bool {
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of keys at this level.
func (s *Store) Len() int {
	return len(s.entries)
}

// Keys returns this level's keys, integer indices first in ascending
// order, then names in lexical order.
func (s *Store) Keys() []Key {
	keys := make([]Key, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.num != b.num {
			return a.num
		}
		if a.num {
			return a.index < b.index
		}
		return a.name < b.name
	})
	return keys
}

// MergeOverwrite copies every key of other into s. When both sides
// hold a nested store under the same key the merge recurses, so
// sibling keys already present in s survive.
func (s *Store) MergeOverwrite(other *Store) {
	if other == nil {
		return
	}
	for key, value := range other.entries {
		if existing, ok := s.entries[key]; ok {
			dst, dstIsStore := existing.(*Store)
			src, srcIsStore := value.(*Store)
			if dstIsStore && srcIsStore {
				dst.MergeOverwrite(src)
				continue
			}
		}
		s.Set(key, value)
	}
}

// MergePreserve copies keys of other that s does not already have;
// keys present in s win. Nested stores held by both sides recurse with
// the same rule.
func (s *Store) MergePreserve(other *Store) {
	if other == nil {
		return
	}
	for key, value := range other.entries {
		existing, ok := s.entries[key]
		if !ok {
			s.Set(key, value)
			continue
		}
		dst, dstIsStore := existing.(*Store)
		src, srcIsStore := value.(*Store)
		if dstIsStore && srcIsStore {
			dst.MergePreserve(src)
		}
	}
}

// ImportSections merges sections of other into s. Without section
// names the whole store merges; fromSection selects a single section
// and toSection renames it on the way in.
func (s *Store) ImportSections(other *Store, fromSection, toSection string) error {
	if other == nil {
		return nil
	}
	if fromSection == "" && toSection == "" {
		s.MergeOverwrite(other)
		return nil
	}
	if fromSection == "" {
		return errors.New(errors.ErrInvalidInput, "to_section given without from_section")
	}

	value, ok := other.Get(String(fromSection))
	if !ok {
		return errors.Newf(errors.ErrNotFound, "context section %q not found", fromSection)
	}

	target := fromSection
	if toSection != "" {
		target = toSection
	}
	wrapper := New()
	wrapper.Set(String(target), value)
	s.MergeOverwrite(wrapper)
	return nil
}

// Equal reports structural equality against another Store or a plain
// nested map.
func (s *Store) Equal(other interface{}) bool {
	switch o := other.(type) {
	case *Store:
		return s.equalStore(o)
	case map[string]interface{}:
		return s.equalStore(FromMap(o))
	case map[interface{}]interface{}:
		return s.equalStore(fromAnyMap(o))
	default:
		return false
	}
}

func (s *Store) equalStore(other *Store) bool {
	if other == nil || len(s.entries) != len(other.entries) {
		return false
	}
	for key, value := range s.entries {
		otherValue, ok := other.entries[key]
		if !ok {
			return false
		}
		nested, isStore := value.(*Store)
		otherNested, otherIsStore := otherValue.(*Store)
		if isStore != otherIsStore {
			return false
		}
		if isStore {
			if !nested.equalStore(otherNested) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(value, otherValue) {
			return false
		}
	}
	return true
}

// ShallowCopy returns a copy of the top level only. Nested stores are
// shared with the original, so a mutation of a nested level through
// the copy is visible in both.
func (s *Store) ShallowCopy() *Store {
	copied := &Store{
		entries: make(map[Key]interface{}, len(s.entries)),
		maxKey:  s.maxKey,
		hasMax:  s.hasMax,
	}
	for key, value := range s.entries {
		copied.entries[key] = value
	}
	return copied
}

// AsMap exports the tree as nested maps with the original key types,
// suitable for YAML serialization and for nested template levels.
func (s *Store) AsMap() map[interface{}]interface{} {
	out := make(map[interface{}]interface{}, len(s.entries))
	for key, value := range s.entries {
		out[key.Value()] = exportValue(value)
	}
	return out
}

// TemplateContext exports the store for the template engine. The top
// level is keyed by strings since template variables are identifiers;
// nested levels keep their integer keys so index access keeps working.
func (s *Store) TemplateContext() map[string]interface{} {
	out := make(map[string]interface{}, len(s.entries))
	for key, value := range s.entries {
		out[key.String()] = exportValue(value)
	}
	return out
}

func exportValue(value interface{}) interface{} {
	if nested, ok := value.(*Store); ok {
		return nested.AsMap()
	}
	return value
}
