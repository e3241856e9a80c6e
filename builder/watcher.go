package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Ignore patterns - these are glob patterns, not path segments
const (
	globGit         = "**/.git"
	globNodeModules = "**/node_modules"
)

// WatcherError is a per-root setup failure. Hot reload for that root is
// disabled; other roots keep working.
type WatcherError struct {
	Root string
	Err  error
}

func (e *WatcherError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Root, e.Err)
}

func (e *WatcherError) Unwrap() error { return e.Err }

type WatcherOptions struct {
	Roots []string
	// Ignore holds doublestar globs, relative to the working directory or
	// absolute. Matching directories are not watched; matching files do not
	// trigger changes.
	Ignore []string
	Logger *slog.Logger
}

// Watcher recursively watches source roots and reports changed files.
type Watcher struct {
	log     *slog.Logger
	fsWatch *fsnotify.Watcher
	roots   []string
	ignored []string

	watchedDirs sync.Map
	setupErrs   []error
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	log := opts.Logger
	if log == nil {
		log = Log
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &WatcherError{Root: "*", Err: err}
	}
	w := &Watcher{log: log, fsWatch: fsWatch}
	w.ignored = []string{globGit, globGit + "/**", globNodeModules, globNodeModules + "/**"}
	for _, p := range opts.Ignore {
		np := norm(p)
		w.ignored = append(w.ignored, np, np+"/**")
	}
	for _, root := range opts.Roots {
		if root == "" {
			continue
		}
		if err := w.AddDir(root); err != nil {
			werr := &WatcherError{Root: root, Err: err}
			w.setupErrs = append(w.setupErrs, werr)
			w.log.Warn("hot reload disabled for root", "root", root, "error", err)
			continue
		}
		w.roots = append(w.roots, root)
	}
	return w, nil
}

// SetupErrors returns the per-root failures from NewWatcher.
func (w *Watcher) SetupErrors() []error { return w.setupErrs }

// Roots returns the roots that are being watched.
func (w *Watcher) Roots() []string { return w.roots }

func (w *Watcher) Close() error {
	return w.fsWatch.Close()
}

func norm(p string) string {
	return normPath(p)
}

// AddDir adds a directory and its subdirectories to the watcher
func (w *Watcher) AddDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if w.IsIgnored(path) {
			return filepath.SkipDir
		}
		absPath := norm(path)
		if _, exists := w.watchedDirs.Load(absPath); exists {
			return nil
		}
		if err := w.fsWatch.Add(path); err != nil {
			return err
		}
		w.watchedDirs.Store(absPath, true)
		return nil
	})
}

// IsIgnored checks if a path matches any of the ignored patterns.
func (w *Watcher) IsIgnored(path string) bool {
	np := norm(path)
	for _, pattern := range w.ignored {
		candidate := np
		if !strings.HasPrefix(pattern, "/") {
			candidate = strings.TrimPrefix(np, "/")
		}
		ok, err := doublestar.Match(pattern, candidate)
		if err != nil {
			w.log.Error("pattern match error", "pattern", pattern, "path", np, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Run delivers changed file paths to onChange until ctx is done. New
// directories are watched as they appear; chmod-only events on non-empty
// files are dropped.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.fsWatch.Events:
			if !ok {
				return nil
			}
			if isNonEmptyChmodOnly(evt) || w.IsIgnored(evt.Name) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.AddDir(evt.Name); err != nil {
						w.log.Warn("watch new directory", "dir", evt.Name, "error", err)
					}
				}
			}
			if evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
				w.removeStale()
			}
			onChange(evt.Name)
		case err, ok := <-w.fsWatch.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("watch event overflow; changes may have been missed")
				onChange("")
				continue
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

// removeStale removes watches for directories that no longer exist
func (w *Watcher) removeStale() {
	w.watchedDirs.Range(func(key, _ any) bool {
		path := key.(string)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			w.fsWatch.Remove(path)
			w.watchedDirs.Delete(path)
		}
		return true
	})
}

// isNonEmptyChmodOnly checks if an event is only a chmod operation on a non-empty file.
// Chmod on an empty file might be part of a create sequence, so those are kept.
func isNonEmptyChmodOnly(evt fsnotify.Event) bool {
	if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Remove) ||
		evt.Has(fsnotify.Rename) {
		return false
	}
	info, err := os.Stat(evt.Name)
	if err != nil {
		return false
	}
	return info.Size() > 0
}
