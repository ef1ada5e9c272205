// Package persistence stores what modules have done across process
// lifetimes: which files they created, which files they displaced, and
// which setup actions have already run. Cleanup undoes a module from the
// created-files store, and the setup store gates once-ever actions.
//
// Both stores are flat YAML documents under the heliod data directory,
// read at construction and written back after each logical change.
package persistence

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/heliod-dev/heliod/pkg/errors"
)

// loadYAML reads a YAML document into out. A missing file counts as an
// empty document.
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, errors.ErrStateRead, "could not read %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, errors.ErrStateRead, "could not parse %s", path)
	}
	return nil
}

// dumpYAML writes in to path as a YAML document, creating parent
// directories as needed.
func dumpYAML(path string, in interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrStateWrite, "could not create %s", filepath.Dir(path))
	}
	data, err := yaml.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, errors.ErrStateWrite, "could not serialize %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.ErrStateWrite, "could not write %s", path)
	}
	return nil
}
