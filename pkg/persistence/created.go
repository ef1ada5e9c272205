package persistence

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/internal/hashutil"
	"github.com/heliod-dev/heliod/pkg/logging"
	"github.com/heliod-dev/heliod/pkg/paths"
)

// Method records how a module created a file.
type Method string

const (
	MethodCompiled  Method = "compiled"
	MethodCopied    Method = "copied"
	MethodSymlinked Method = "symlinked"
	MethodMkdir     Method = "mkdir"
)

// Creation is the stored record of one file created by a module.
type Creation struct {
	// Content is the source the file was created from. Empty for
	// directories.
	Content string `yaml:"content"`

	// Method tells cleanup how the file came to be.
	Method Method `yaml:"method"`

	// Hash is the MD5 digest of the file as it was written, or null when
	// the file could not be hashed.
	Hash *string `yaml:"hash"`

	// Backup points at the displaced original of an overwritten file, or
	// null when nothing was displaced.
	Backup *string `yaml:"backup"`
}

// CreatedFiles persists which files each module has created, keyed by
// module name and then by absolute target path.
type CreatedFiles struct {
	path      string
	backupDir string
	creations map[string]map[string]*Creation
	logger    zerolog.Logger
}

// NewCreatedFiles reads the created-files store from the data directory.
func NewCreatedFiles(p paths.Paths) (*CreatedFiles, error) {
	c := &CreatedFiles{
		path:      p.CreatedFilesPath(),
		backupDir: p.BackupsDir(),
		creations: map[string]map[string]*Creation{},
		logger:    logging.GetLogger("persistence"),
	}
	if err := loadYAML(c.path, &c.creations); err != nil {
		return nil, err
	}
	return c, nil
}

// Insert records files created by module. Targets are parallel to
// contents: targets[i] was created from contents[i]. Targets that do not
// exist on disk are skipped. The store is only written back when an
// entry actually changed.
func (c *CreatedFiles) Insert(module string, method Method, contents, targets []string) error {
	changed := false
	for i := 0; i < len(contents) && i < len(targets); i++ {
		if _, err := os.Lstat(targets[i]); err != nil {
			continue
		}
		if c.insertCreation(module, method, contents[i], targets[i]) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return c.write()
}

func (c *CreatedFiles) insertCreation(module string, method Method, content, target string) bool {
	creation, ok := c.section(module)[target]
	if !ok {
		creation = &Creation{}
		c.section(module)[target] = creation
	}
	if creation.Content == content && creation.Method == method {
		return false
	}
	creation.Content = content
	creation.Method = method
	creation.Hash = c.hash(target)
	return true
}

// TrackDirectory records a directory the module has created, so cleanup
// can remove it again once it is empty. Tracking the same directory
// twice keeps the first record.
func (c *CreatedFiles) TrackDirectory(module, dir string) error {
	info, err := os.Lstat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	if _, ok := c.section(module)[dir]; ok {
		return nil
	}
	c.section(module)[dir] = &Creation{Method: MethodMkdir}
	return c.write()
}

// Backup moves a pre-existing target aside before a module overwrites
// it, so cleanup can put it back. It returns the backup location, or the
// empty string when there was nothing to back up. Files some module
// already created are never backed up, and backing up the same target
// again returns the first backup untouched.
func (c *CreatedFiles) Backup(module, target string) (string, error) {
	if creation, ok := c.section(module)[target]; ok && creation.Backup != nil {
		return *creation.Backup, nil
	}
	if c.OwnedBy(target) != "" {
		return "", nil
	}
	if _, err := os.Lstat(target); err != nil {
		return "", nil
	}

	if err := os.MkdirAll(c.backupDir, 0o755); err != nil {
		return "", errors.Wrapf(err, errors.ErrStateWrite, "could not create backup directory %s", c.backupDir)
	}
	backup := filepath.Join(c.backupDir, filepath.Base(target)+"-"+hashutil.PathHash(target))
	if err := os.Rename(target, backup); err != nil {
		return "", errors.Wrapf(err, errors.ErrStateWrite, "could not move %s aside", target)
	}
	c.logger.Info().
		Str("path", target).
		Str("backup", backup).
		Msg("Backed up existing file before overwriting it")

	creation, ok := c.section(module)[target]
	if !ok {
		creation = &Creation{}
		c.section(module)[target] = creation
	}
	creation.Backup = &backup
	return backup, c.write()
}

// OwnedBy returns the name of the module that created target, or the
// empty string when no module did.
func (c *CreatedFiles) OwnedBy(target string) string {
	for module, section := range c.creations {
		if _, ok := section[target]; ok {
			return module
		}
	}
	return ""
}

// HashOf returns the stored MD5 digest for target, or the empty string
// when the target is untracked or could not be hashed when written.
func (c *CreatedFiles) HashOf(module, target string) string {
	if creation, ok := c.section(module)[target]; ok && creation.Hash != nil {
		return *creation.Hash
	}
	return ""
}

// By returns the files module has created, most deeply nested first.
func (c *CreatedFiles) By(module string) []string {
	section := c.creations[module]
	targets := make([]string, 0, len(section))
	for target := range section {
		targets = append(targets, target)
	}
	cleanupOrder(targets)
	return targets
}

// Cleanup deletes everything module created, restores the backups of
// files it displaced and forgets the module. With dryRun set it only
// logs what it would have done.
func (c *CreatedFiles) Cleanup(module string, dryRun bool) error {
	section := c.creations[module]
	for _, target := range c.By(module) {
		c.cleanupTarget(target, section[target], dryRun)
	}
	if dryRun {
		return nil
	}
	delete(c.creations, module)
	return c.write()
}

func (c *CreatedFiles) cleanupTarget(target string, creation *Creation, dryRun bool) {
	if creation.Method == MethodMkdir {
		c.cleanupDirectory(target, dryRun)
		return
	}

	logger := c.logger.With().
		Str("path", target).
		Str("method", string(creation.Method)).
		Str("content", creation.Content).
		Logger()

	if dryRun {
		logger.Info().Msg("SKIPPED: would delete created file")
		if creation.Backup != nil {
			logger.Info().Str("backup", *creation.Backup).Msg("SKIPPED: would restore backup")
		}
		return
	}

	if _, err := os.Lstat(target); err != nil {
		logger.Info().Msg("Created file no longer exists, nothing to delete")
	} else if err := os.Remove(target); err != nil {
		logger.Error().Err(err).Msg("Could not delete created file")
	} else {
		logger.Info().Msg("Deleted created file")
	}

	if creation.Backup != nil {
		if err := os.Rename(*creation.Backup, target); err != nil {
			logger.Error().Err(err).Str("backup", *creation.Backup).Msg("Could not restore backup")
		} else {
			logger.Info().Str("backup", *creation.Backup).Msg("Restored backup")
		}
	}
}

func (c *CreatedFiles) cleanupDirectory(dir string, dryRun bool) {
	logger := c.logger.With().Str("path", dir).Logger()
	if dryRun {
		logger.Info().Msg("SKIPPED: would remove created directory")
		return
	}

	err := os.Remove(dir)
	switch {
	case err == nil:
		logger.Info().Msg("Removed created directory")
	case os.IsNotExist(err):
		logger.Info().Msg("Created directory no longer exists")
	default:
		// Files added by someone else block the removal.
		logger.Info().Err(err).Msg("Keeping created directory")
	}
}

func (c *CreatedFiles) section(module string) map[string]*Creation {
	section, ok := c.creations[module]
	if !ok {
		section = map[string]*Creation{}
		c.creations[module] = section
	}
	return section
}

func (c *CreatedFiles) hash(target string) *string {
	hash, err := hashutil.FileHash(target)
	if err != nil {
		c.logger.Warn().Str("path", target).Err(err).Msg("Could not hash created file")
		return nil
	}
	return &hash
}

func (c *CreatedFiles) write() error {
	return dumpYAML(c.path, c.creations)
}

// cleanupOrder sorts targets children first, so directories are emptied
// before their own removal is attempted.
func cleanupOrder(targets []string) {
	sort.Slice(targets, func(i, j int) bool {
		di := strings.Count(targets[i], string(filepath.Separator))
		dj := strings.Count(targets[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return targets[i] < targets[j]
	})
}
