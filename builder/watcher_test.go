package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vormadev/kiln/kit/colorlog"
)

func TestWatcherSetupFailureIsPerRoot(t *testing.T) {
	good := t.TempDir()
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	w, err := NewWatcher(WatcherOptions{Roots: []string{missing, good}, Logger: colorlog.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if len(w.Roots()) != 1 || w.Roots()[0] != good {
		t.Errorf("roots = %v", w.Roots())
	}
	errs := w.SetupErrors()
	var werr *WatcherError
	if len(errs) != 1 || !errors.As(errs[0], &werr) || werr.Root != missing {
		t.Errorf("setup errors = %v", errs)
	}
}

func TestWatcherIgnore(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(WatcherOptions{Ignore: []string{filepath.Join(root, "dist")}, Logger: colorlog.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, ".git"), true},
		{filepath.Join(root, ".git", "HEAD"), true},
		{filepath.Join(root, "web", "node_modules", "x", "index.js"), true},
		{filepath.Join(root, "dist"), true},
		{filepath.Join(root, "dist", "manifest.json"), true},
		{filepath.Join(root, "pages", "index.tsx"), false},
		{filepath.Join(root, "distro", "a.txt"), false},
	}
	for _, tt := range tests {
		if got := w.IsIgnored(tt.path); got != tt.want {
			t.Errorf("IsIgnored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(WatcherOptions{Roots: []string{root}, Logger: colorlog.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan string, 64)
	go w.Run(ctx, func(p string) { changes <- p })

	waitFor := func(suffix string) {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case p := <-changes:
				if strings.HasSuffix(filepath.ToSlash(p), suffix) {
					return
				}
			case <-timeout:
				t.Fatalf("no event for %s", suffix)
			}
		}
	}

	os.WriteFile(filepath.Join(root, "index.tsx"), []byte("x"), 0o644)
	waitFor("index.tsx")

	sub := filepath.Join(root, "about")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor("/about")
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	os.WriteFile(filepath.Join(sub, "index.tsx"), []byte("y"), 0o644)
	waitFor("about/index.tsx")
}
