package modules

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vormadev/kiln/kit/colorlog"
	"github.com/vormadev/kiln/manifest"
)

var Log = colorlog.New("modules")

type LoaderOptions struct {
	Importer Importer
	// ServerDir is joined with RouteEntry.ServerModule by ReloadAll.
	ServerDir string
	// Concurrency bounds ReloadAll. Default: 8.
	Concurrency int
	Logger      *slog.Logger
	// OnError observes every failed import.
	OnError func(path string, err error)
}

type Loader struct {
	opts  LoaderOptions
	group singleflight.Group
}

func NewLoader(opts LoaderOptions) *Loader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = Log
	}
	if opts.Importer == nil {
		opts.Importer = DefaultImporter()
	}
	return &Loader{opts: opts}
}

type LoadOptions struct {
	// BustCache forces a fresh import. Always set in development.
	BustCache bool
	Cache     *Cache
}

// ModulePath resolves a route's compiled module on disk.
func (l *Loader) ModulePath(e *manifest.RouteEntry) string {
	return filepath.Join(l.opts.ServerDir, filepath.FromSlash(e.ServerModule))
}

// Load returns the cached module for path unless opts.BustCache is set.
// Import failures never escape: the caller gets a stub whose output is
// ErrorMarker, and the stub is not cached.
func (l *Loader) Load(ctx context.Context, path string, opts LoadOptions) Module {
	if !opts.BustCache {
		if m, ok := opts.Cache.Get(path); ok {
			return m
		}
	}
	v, err, _ := l.group.Do(path, func() (any, error) {
		return l.opts.Importer.Import(ctx, path)
	})
	if err == nil && v == nil {
		err = errors.New("importer returned no module")
	}
	if err != nil {
		lerr := &ModuleLoadError{Path: path, Err: err}
		l.opts.Logger.Error("module load failed", "path", path, "error", err)
		if l.opts.OnError != nil {
			l.opts.OnError(path, err)
		}
		return Stub(lerr)
	}
	m := v.(Module)
	opts.Cache.Set(path, m)
	return m
}

// ReloadAll force-reimports every route module referenced by m into a new
// cache. The returned error joins the per-route load errors and the new
// cache is usable regardless. Cancellation returns the previous cache.
func (l *Loader) ReloadAll(ctx context.Context, m manifest.Manifest, cache *Cache) (*Cache, error) {
	fresh := NewCache()
	paths := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for i := range m {
		p := l.ModulePath(&m[i])
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	errs := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Concurrency)
	for i, p := range paths {
		g.Go(func() error {
			mod := l.Load(gctx, p, LoadOptions{BustCache: true, Cache: fresh})
			if IsStub(mod) {
				errs[i] = StubError(mod)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return cache, err
	}
	return fresh, errors.Join(errs...)
}
