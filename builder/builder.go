// Package builder runs the bundler on source changes: it spawns build
// steps, debounces filesystem events and watches the source roots.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/vormadev/kiln/kit/colorlog"
)

var Log = colorlog.New("builder")

// Spawner runs one build step. Diagnostics go to stderr; a non-nil error
// marks the build as failed.
type Spawner interface {
	Spawn(ctx context.Context, filename string, stderr io.Writer) error
}

type SpawnerFunc func(ctx context.Context, filename string, stderr io.Writer) error

func (f SpawnerFunc) Spawn(ctx context.Context, filename string, stderr io.Writer) error {
	return f(ctx, filename, stderr)
}

// Spawners runs steps in order, stopping at the first failure.
type Spawners []Spawner

func (s Spawners) Spawn(ctx context.Context, filename string, stderr io.Writer) error {
	for _, sp := range s {
		if sp == nil {
			continue
		}
		if err := sp.Spawn(ctx, filename, stderr); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// BuildError is a failed build with its captured diagnostics.
type BuildError struct {
	File   string
	Stderr string
}

func (e *BuildError) Error() string {
	if e.File == "" {
		return "build failed: " + e.Stderr
	}
	return fmt.Sprintf("build failed (%s): %s", e.File, e.Stderr)
}

// RunBuild spawns a build for filename (empty for a full build) and returns
// the captured stderr text, or "" on success. It never panics or returns an
// error: a failed build only degrades the dev experience.
func RunBuild(ctx context.Context, sp Spawner, filename string) (stderrText string) {
	var stderr bytes.Buffer
	defer func() {
		if r := recover(); r != nil {
			Log.Error("build step panicked", "panic", r)
			stderrText = strings.TrimSpace(stderr.String() + "\n" + fmt.Sprint(r))
		}
	}()
	if sp == nil {
		return ""
	}
	err := sp.Spawn(ctx, filename, &stderr)
	if err == nil {
		return ""
	}
	text := strings.TrimSpace(stderr.String())
	if text == "" {
		text = err.Error()
	}
	Log.Debug("build failed", "file", filename, "error", err)
	return text
}

// IsMiddlewareFile reports whether filename is the middleware source file.
func IsMiddlewareFile(filename, middlewarePath string) bool {
	if filename == "" || middlewarePath == "" {
		return false
	}
	return normPath(filename) == normPath(middlewarePath)
}

func normPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p))
	}
	return filepath.ToSlash(abs)
}
