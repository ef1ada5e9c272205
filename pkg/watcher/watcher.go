// Package watcher observes a directory tree for file modifications and
// reports them as absolute paths on a channel. The module manager owns
// the consuming end and decides what a modification means.
package watcher

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/heliod-dev/heliod/pkg/errors"
	"github.com/heliod-dev/heliod/pkg/logging"
)

// Watcher reports file writes below a root directory. Directories
// created while watching are picked up, so the whole tree stays
// covered.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	events  chan string
	logger  zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a watcher rooted at directory. Call Start to begin
// receiving events.
func New(directory string) (*Watcher, error) {
	root, err := filepath.Abs(directory)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess,
			"could not resolve watch root %s", directory)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "could not create file watcher")
	}

	return &Watcher{
		root:    root,
		watcher: fsWatcher,
		events:  make(chan string),
		logger:  logging.GetLogger("watcher"),
		stopCh:  make(chan struct{}),
	}, nil
}

// Events returns the channel of modified file paths. The channel
// closes when the watcher stops.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Start watches the root tree and begins delivering events.
func (w *Watcher) Start() error {
	if err := w.addTree(w.root, false); err != nil {
		w.watcher.Close()
		return err
	}
	go w.watchLoop()
	w.logger.Info().Str("directory", w.root).Msg("Watching directory for modifications")
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

// addTree registers every directory under dir. With emitFiles set the
// files found along the way are reported as modifications, covering
// writes that landed before the watch was attached.
func (w *Watcher) addTree(dir string, emitFiles bool) error {
	return filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, errors.ErrFileAccess, "could not watch %s", path)
		}
		if entry.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return errors.Wrapf(err, errors.ErrFileAccess, "could not watch %s", path)
			}
			return nil
		}
		if emitFiles {
			w.emit(path)
		}
		return nil
	})
}

func (w *Watcher) watchLoop() {
	defer close(w.events)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			// New directory: watch it and report files already inside.
			if err := w.addTree(event.Name, true); err != nil {
				w.logger.Error().Err(err).
					Str("directory", event.Name).
					Msg("Could not watch created directory")
			}
		}
		return
	}

	// Bare file creation carries no content yet, only the write that
	// fills the file counts as a modification.
	if event.Op&fsnotify.Write == 0 {
		return
	}

	w.logger.Debug().
		Str("event", event.Op.String()).
		Str("file", event.Name).
		Msg("File modified")
	w.emit(event.Name)
}

func (w *Watcher) emit(path string) {
	select {
	case w.events <- path:
	case <-w.stopCh:
	}
}
