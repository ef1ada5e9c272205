package actions

import (
	"os"
	"path/filepath"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/internal/hashutil"
	"github.com/heliod-dev/heliod/pkg/persistence"
)

// CopyOptions configure a copy action.
type CopyOptions struct {
	// Content is the file or directory to copy from.
	Content string `mapstructure:"content"`

	// Target is the destination file or directory.
	Target string `mapstructure:"target"`

	// Include filters and renames files when Content is a directory.
	// The pattern matches from the start of the file name and its
	// first capture group renames the destination. Defaults to
	// copying everything with names kept.
	Include string `mapstructure:"include"`

	// Permissions overrides the destination mode bits, in the same
	// forms the compile action accepts.
	Permissions interface{} `mapstructure:"permissions"`
}

// SymlinkOptions configure a symlink action.
type SymlinkOptions struct {
	Content string `mapstructure:"content"`
	Target  string `mapstructure:"target"`
	Include string `mapstructure:"include"`
}

// Copy places copies of the content files under the target, backing up
// foreign files it overwrites.
type Copy struct {
	base
	opts CopyOptions
}

// NewCopy builds a copy action from raw options.
func NewCopy(options map[string]interface{}, env Env) (*Copy, error) {
	action := &Copy{base: newBase("copy", options, env)}
	if err := decodeOptions(action.kind, options, &action.opts); err != nil {
		return nil, err
	}
	return action, nil
}

// Execute copies content to target and returns a map from each source
// file to its destination.
func (a *Copy) Execute(dryRun bool) (map[string]string, error) {
	if a.null {
		return map[string]string{}, nil
	}
	return a.place(a.opts.Content, a.opts.Target, a.opts.Include,
		func(source, destination string) error {
			return a.placeCopy(source, destination, a.opts.Permissions, dryRun)
		})
}

// Symlink places symlinks to the content files under the target,
// backing up foreign files it overwrites.
type Symlink struct {
	base
	opts SymlinkOptions
}

// NewSymlink builds a symlink action from raw options.
func NewSymlink(options map[string]interface{}, env Env) (*Symlink, error) {
	action := &Symlink{base: newBase("symlink", options, env)}
	if err := decodeOptions(action.kind, options, &action.opts); err != nil {
		return nil, err
	}
	return action, nil
}

// Execute symlinks content under target and returns a map from each
// source file to the symlink pointing back at it.
func (a *Symlink) Execute(dryRun bool) (map[string]string, error) {
	if a.null {
		return map[string]string{}, nil
	}
	return a.place(a.opts.Content, a.opts.Target, a.opts.Include,
		func(source, destination string) error {
			return a.placeSymlink(source, destination, dryRun)
		})
}

// place resolves the content and target roots and applies one
// placement function per source file. A missing content root logs an
// error and places nothing.
func (b *base) place(contentOption, targetOption, includeOption string,
	placeOne func(source, destination string) error) (map[string]string, error) {

	content := b.path(contentOption)
	target := b.path(targetOption)

	info, err := os.Stat(content)
	if err != nil {
		b.logger.Error().
			Str("content", content).
			Str("target", target).
			Msg("Could not place files, no such path")
		return map[string]string{}, nil
	}

	match, err := newMatcher(b.text(includeOption))
	if err != nil {
		return nil, err
	}

	results := make(map[string]string)

	if !info.IsDir() {
		name, ok := match.rename(filepath.Base(content))
		if !ok {
			return results, nil
		}
		destination := target
		if tinfo, err := os.Stat(target); err == nil && tinfo.IsDir() {
			destination = filepath.Join(target, name)
		}
		if err := placeOne(content, destination); err != nil {
			return results, err
		}
		results[content] = destination
		return results, nil
	}

	files, err := walkFiles(content)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess,
			"could not list files under %s", content)
	}
	for _, file := range files {
		destination, ok := destinationFor(match, content, file, target)
		if !ok {
			continue
		}
		if err := placeOne(file, destination); err != nil {
			b.logger.Error().Err(err).
				Str("source", file).
				Str("target", destination).
				Msg("Could not place file")
			continue
		}
		results[file] = destination
	}
	return results, nil
}

// placeCopy copies source to destination, skipping copies that are
// already in place and backing up foreign files first.
func (b *base) placeCopy(source, destination string, permissions interface{}, dryRun bool) error {
	if dryRun {
		b.logger.Info().
			Str("source", source).
			Str("target", destination).
			Msg("SKIPPED: would copy file")
		return nil
	}

	sourceHash, err := hashutil.FileHash(source)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess,
			"could not read copy source %s", source)
	}
	if b.env.Created.OwnedBy(destination) == b.env.Module &&
		b.env.Created.HashOf(b.env.Module, destination) == sourceHash {
		return nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess,
			"could not read copy source %s", source)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(source); err == nil {
		mode = info.Mode().Perm()
	}

	b.backup(destination)
	if err := b.ensureDir(filepath.Dir(destination)); err != nil {
		return err
	}
	// Never write through a leftover symlink at the destination.
	if info, err := os.Lstat(destination); err == nil && info.Mode()&os.ModeSymlink != 0 {
		_ = os.Remove(destination)
	}
	if err := os.WriteFile(destination, data, mode); err != nil {
		return errors.Wrapf(err, errors.ErrFileCreate,
			"could not copy %s to %s", source, destination)
	}

	var permOption interface{} = permissions
	if s, ok := permissions.(string); ok {
		permOption = b.text(s)
	}
	if final, err := parseMode(permOption, mode); err != nil {
		b.logger.Error().Err(err).Str("target", destination).
			Msg("Invalid permissions option, keeping source permissions")
	} else if final != mode {
		if err := os.Chmod(destination, final); err != nil {
			b.logger.Error().Err(err).Str("target", destination).
				Msg("Could not set copy permissions")
		}
	}

	if err := b.env.Created.Insert(b.env.Module, persistence.MethodCopied,
		[]string{source}, []string{destination}); err != nil {
		b.logger.Error().Err(err).Msg("Could not persist created file")
	}

	b.logger.Info().
		Str("source", source).
		Str("target", destination).
		Msg("Copied file")
	return nil
}

// placeSymlink links destination to source, backing up foreign files
// first. An already correct symlink is left alone.
func (b *base) placeSymlink(source, destination string, dryRun bool) error {
	if dryRun {
		b.logger.Info().
			Str("source", source).
			Str("target", destination).
			Msg("SKIPPED: would create symlink")
		return nil
	}

	if existing, err := os.Readlink(destination); err == nil && existing == source {
		return nil
	}

	b.backup(destination)
	if err := b.ensureDir(filepath.Dir(destination)); err != nil {
		return err
	}
	if _, err := os.Lstat(destination); err == nil {
		// Left in place by an earlier run of this module.
		_ = os.Remove(destination)
	}
	if err := os.Symlink(source, destination); err != nil {
		return errors.Wrapf(err, errors.ErrSymlinkCreate,
			"could not symlink %s to %s", destination, source)
	}

	if err := b.env.Created.Insert(b.env.Module, persistence.MethodSymlinked,
		[]string{source}, []string{destination}); err != nil {
		b.logger.Error().Err(err).Msg("Could not persist created file")
	}

	b.logger.Info().
		Str("source", source).
		Str("target", destination).
		Msg("Created symlink")
	return nil
}
