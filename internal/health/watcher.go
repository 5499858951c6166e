package health

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// changeSource feeds file changes into the monitor until ctx is done.
type changeSource interface {
	Mode() string
	Run(ctx context.Context) error
}

// fsWatcher is the event-driven change source.
type fsWatcher struct {
	m   *Monitor
	fsw *fsnotify.Watcher
}

func newFSWatcher(m *Monitor) (*fsWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &fsWatcher{m: m, fsw: fsw}
	if err := w.addWatchesRecursive(m.cfg.Root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *fsWatcher) Mode() string { return "fsnotify" }

// addWatchesRecursive adds watches to every directory that may hold
// monitored files.
func (w *fsWatcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if !w.m.walkDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.m.log.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *fsWatcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()
	w.m.log.Info("file watcher started", "root", w.m.cfg.Root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.m.log.Error("watcher error", "error", err)
		}
	}
}

// handleFSEvent translates one fsnotify event. It never blocks: Submit
// drops when the queue is full.
func (w *fsWatcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if rel, ok := w.m.relPath(path); ok {
			w.m.registry.Forget(rel)
		}
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
	}

	var kind ChangeKind
	switch {
	case event.Has(fsnotify.Create):
		kind = ChangeCreated
	case event.Has(fsnotify.Write):
		kind = ChangeModified
	default:
		return
	}
	if _, ok := w.m.relPath(path); !ok {
		return
	}
	w.m.Submit(Change{Kind: kind, Path: path})
}

// handleNewDirectory watches a new directory and reports files that were
// created in it before the watch was in place.
func (w *fsWatcher) handleNewDirectory(path string) {
	if !w.m.walkDir(path) {
		return
	}
	if err := w.addWatchesRecursive(path); err != nil {
		w.m.log.Warn("failed to watch new directory", "path", path, "error", err)
	}
	w.m.walkFiles(path, func(abs, _ string, _ fs.FileInfo) {
		w.m.Submit(Change{Kind: ChangeCreated, Path: abs})
	})
}
