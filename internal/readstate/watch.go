package readstate

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher reloads a tracker whenever another process rewrites the
// file-backed store. The directory is watched because atomic writes replace
// the file by rename.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	tracker *Tracker
	logger  *slog.Logger
}

func NewFileWatcher(store *FileStore, tracker *Tracker, logger *slog.Logger) (*FileWatcher, error) {
	if store == nil || tracker == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(store.Path())); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &FileWatcher{
		watcher: watcher,
		path:    filepath.Clean(store.Path()),
		tracker: tracker,
		logger:  logger,
	}, nil
}

func (w *FileWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.tracker.Reload(); err != nil {
				w.logger.Warn("read-state reload failed", slog.String("path", w.path), slog.Any("error", err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("read-state watcher error", slog.Any("error", err))
		}
	}
}
