package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/vormadev/kiln/builder"
	"github.com/vormadev/kiln/manifest"
	"github.com/vormadev/kiln/middleware"
)

type DevOptions struct {
	Server  *Server
	Spawner builder.Spawner
	// Manifest configures the page scan. ManifestPath is where the result is
	// saved and reloaded from.
	Manifest     manifest.Options
	ManifestPath string
	// Assets, when set, supplies bundle URLs for route entry points.
	Assets *builder.AssetIndex

	MiddlewarePath string
	Registry       middleware.Registry

	WatchRoots []string
	// Ignore holds extra doublestar globs. The output dirs are always
	// ignored.
	Ignore []string

	RebuildDebounce    time.Duration
	MiddlewareDebounce time.Duration
	Logger             *slog.Logger
}

// Dev keeps a Server's snapshot in step with the source tree.
type Dev struct {
	opts   DevOptions
	log    *slog.Logger
	server *Server

	// mu serializes rebuilds started outside the debouncer.
	mu sync.Mutex
}

func NewDev(opts DevOptions) (*Dev, error) {
	if opts.Server == nil {
		return nil, errors.New("devserver: server is required")
	}
	if opts.Spawner == nil {
		return nil, errors.New("devserver: spawner is required")
	}
	if opts.ManifestPath == "" {
		return nil, errors.New("devserver: manifest path is required")
	}
	if opts.Logger == nil {
		opts.Logger = opts.Server.log
	}
	if opts.RebuildDebounce <= 0 {
		opts.RebuildDebounce = builder.DefaultRebuildDebounce
	}
	if opts.MiddlewareDebounce <= 0 {
		opts.MiddlewareDebounce = builder.DefaultMiddlewareDebounce
	}
	return &Dev{opts: opts, log: opts.Logger, server: opts.Server}, nil
}

// RebuildResult summarizes one pipeline run.
type RebuildResult struct {
	Routes    int
	Reused    bool
	Delivered int
	// ModuleErrors joins routes whose module failed to import. Those routes
	// render the error stub until the next rebuild.
	ModuleErrors error
}

// Rebuild runs the bundler, refreshes the manifest and modules, swaps the
// snapshot and only then pushes payloads to hot reload clients. A failed
// build records its stderr for the banner and returns a *builder.BuildError
// without touching the snapshot.
func (d *Dev) Rebuild(ctx context.Context, filename string) (RebuildResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	res, err := d.rebuild(ctx, filename)
	d.server.Metrics().ObserveRebuild(err == nil, time.Since(start))
	if err != nil {
		var be *builder.BuildError
		if !errors.As(err, &be) && ctx.Err() == nil {
			d.log.Error("rebuild failed", "file", filename, "error", err)
		}
		return res, err
	}
	d.log.Info("rebuilt",
		"routes", res.Routes,
		"reused", res.Reused,
		"clients", res.Delivered,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

func (d *Dev) rebuild(ctx context.Context, filename string) (RebuildResult, error) {
	var res RebuildResult

	stderr := builder.RunBuild(ctx, d.opts.Spawner, filename)
	if stderr == "" {
		if err := d.server.ReloadTemplate(); err != nil {
			stderr = err.Error()
		}
	}
	d.server.SetBuildError(stderr)
	if stderr != "" {
		d.log.Error("build failed", "file", filename, "stderr", stderr)
		return res, &builder.BuildError{File: filename, Stderr: stderr}
	}

	m, reused, err := manifest.BuildFromDisk(ctx, d.opts.Manifest, d.opts.ManifestPath)
	if err != nil {
		d.server.SetBuildError(err.Error())
		return res, fmt.Errorf("build manifest: %w", err)
	}
	if d.opts.Assets != nil {
		m = manifest.AttachAssets(m, d.opts.Assets.Resolve)
	}
	if err := manifest.Save(d.opts.ManifestPath, m); err != nil {
		err = fmt.Errorf("save manifest: %w", err)
		d.server.SetBuildError(err.Error())
		return res, err
	}

	loaded, err := manifest.Reload(ctx, d.opts.ManifestPath, manifest.ReloadOptions{})
	if err != nil {
		d.server.SetBuildError(err.Error())
		return res, err
	}
	cache, modErr := d.server.Loader().ReloadAll(ctx, loaded, nil)
	if modErr != nil && ctx.Err() != nil {
		return res, modErr
	}
	if modErr != nil {
		d.log.Warn("route modules failed to load", "error", modErr)
	}

	d.server.Swap(loaded, cache)
	res.Routes = len(loaded)
	res.Reused = reused
	res.ModuleErrors = modErr
	res.Delivered = d.server.Broadcaster().Broadcast(ctx, d.server.HotReplacePayload)
	return res, nil
}

// ReloadMiddleware re-reads the middleware file. A file that fails to load
// leaves the previous chain in place.
func (d *Dev) ReloadMiddleware() error {
	if d.opts.MiddlewarePath == "" {
		return nil
	}
	chain, err := middleware.Load(d.opts.MiddlewarePath, d.opts.Registry)
	if err != nil {
		d.log.Error("middleware reload failed, keeping previous chain", "path", d.opts.MiddlewarePath, "error", err)
		return err
	}
	d.server.SetMiddleware(chain)
	d.log.Info("middleware loaded", "path", d.opts.MiddlewarePath, "count", len(chain))
	return nil
}

// ignored adds the output dirs to the configured ignore globs so builds do
// not retrigger themselves.
func (d *Dev) ignored() []string {
	out := []string{d.server.opts.PublicDir, d.server.opts.ServerDir}
	if dir := filepath.Dir(d.opts.ManifestPath); dir != "." {
		out = append(out, dir)
	}
	return append(out, d.opts.Ignore...)
}

// Run performs an initial build and then watches until ctx is done. A
// watcher that cannot start leaves the server running without hot reload.
func (d *Dev) Run(ctx context.Context) error {
	d.ReloadMiddleware()
	d.Rebuild(ctx, "")

	rebuild := builder.Debounce(func(file string) {
		d.Rebuild(ctx, file)
	}, d.opts.RebuildDebounce)
	defer rebuild.Stop()
	mw := builder.Debounce(func(string) {
		d.ReloadMiddleware()
	}, d.opts.MiddlewareDebounce)
	defer mw.Stop()

	w, err := builder.NewWatcher(builder.WatcherOptions{
		Roots:  d.opts.WatchRoots,
		Ignore: d.ignored(),
		Logger: d.log,
	})
	if err != nil {
		d.log.Error("file watching disabled", "error", err)
		<-ctx.Done()
		return nil
	}
	defer w.Close()
	if d.opts.MiddlewarePath != "" {
		if err := w.AddDir(filepath.Dir(d.opts.MiddlewarePath)); err != nil {
			d.log.Warn("cannot watch middleware dir", "error", err)
		}
	}

	return w.Run(ctx, func(path string) {
		if builder.IsMiddlewareFile(path, d.opts.MiddlewarePath) {
			mw.Call(path)
			return
		}
		rebuild.Call(path)
	})
}
