package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vormadev/kiln/builder"
	"github.com/vormadev/kiln/config"
	"github.com/vormadev/kiln/devserver"
	"github.com/vormadev/kiln/kit/colorlog"
	"github.com/vormadev/kiln/kit/etag"
	"github.com/vormadev/kiln/manifest"
	"github.com/vormadev/kiln/metrics"
	"github.com/vormadev/kiln/modules"
)

// app is the server and its rebuild pipeline wired from one Config.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	server  *devserver.Server
	dev     *devserver.Dev
	bundler *builder.EsbuildSpawner
}

func newLogger(cfg config.Config) *slog.Logger {
	return colorlog.New("kiln", colorlog.Options{
		Output: os.Stderr,
		Level:  colorlog.ParseLevel(cfg.LogLevel),
	})
}

func newApp(cfg config.Config, log *slog.Logger) (*app, error) {
	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New(nil)
	}
	server, err := devserver.New(devserver.Options{
		Dev:        cfg.IsDev(),
		PublicDir:  cfg.PublicDir(),
		PublicPath: cfg.PublicPath,
		ServerDir:  cfg.ServerDir(),
		Template:   cfg.Template,
		ModuleExt:  cfg.ModuleExt,
		Importer:   importer(cfg),
		Metrics:    m,
		Logger:     log,
		Minify:     cfg.Minify,
		ETag:       etag.Config{BuildID: version},
		KeepAlive:  cfg.KeepAlive,
	})
	if err != nil {
		return nil, err
	}

	mopts := manifest.Options{
		PagesDir:        cfg.PagesDir,
		Template:        cfg.Template,
		Hash:            cfg.Hash,
		ScriptLoading:   cfg.ScriptLoading,
		ClientEntryMode: cfg.ClientEntryMode,
		ModuleExt:       cfg.ModuleExt,
	}
	assets := builder.NewAssetIndex()
	bundler := &builder.EsbuildSpawner{
		Entries: func(ctx context.Context) ([]string, error) {
			routes, _, err := manifest.BuildFromDisk(ctx, mopts, cfg.ManifestPath())
			if err != nil {
				return nil, err
			}
			return manifest.BundleEntries(routes), nil
		},
		Outbase:    cfg.PagesDir,
		Outdir:     cfg.PublicDir(),
		PublicPath: cfg.PublicPath,
		Hash:       cfg.Hash,
		Minify:     cfg.Minify,
		Assets:     assets,
	}

	dev, err := devserver.NewDev(devserver.DevOptions{
		Server:             server,
		Spawner:            builder.Spawners{compiler(cfg, log), bundler},
		Manifest:           mopts,
		ManifestPath:       cfg.ManifestPath(),
		Assets:             assets,
		MiddlewarePath:     cfg.MiddlewarePath,
		WatchRoots:         watchRoots(cfg),
		RebuildDebounce:    cfg.RebuildDebounce,
		MiddlewareDebounce: cfg.MiddlewareDebounce,
		Logger:             log,
	})
	if err != nil {
		server.Close()
		return nil, err
	}
	return &app{cfg: cfg, log: log, server: server, dev: dev, bundler: bundler}, nil
}

func (a *app) Close() {
	a.bundler.Close()
	a.server.Close()
}

// compiler is the external markup compiler when one is configured and a
// plain copy of markup pages otherwise.
func compiler(cfg config.Config, log *slog.Logger) builder.Spawner {
	if len(cfg.BuildCommand) > 0 {
		return &builder.ExecSpawner{
			Command: cfg.BuildCommand[0],
			Args:    cfg.BuildCommand[1:],
			Stdout:  os.Stderr,
			Logger:  log,
		}
	}
	return &builder.CopySpawner{
		PagesDir:  cfg.PagesDir,
		ServerDir: cfg.ServerDir(),
		ModuleExt: cfg.ModuleExt,
	}
}

// importer renders modules with the configured extension through the render
// command when one is set. Markup pages keep the template importer.
func importer(cfg config.Config) modules.ExtImporter {
	t := &modules.TemplateImporter{}
	imp := modules.ExtImporter{".tmpl": t, ".html": t}
	if len(cfg.RenderCommand) > 0 {
		imp[cfg.ModuleExt] = &modules.ExecImporter{
			Command: cfg.RenderCommand[0],
			Args:    cfg.RenderCommand[1:],
		}
	}
	return imp
}

// watchRoots covers the pages, the template and the middleware file. Roots
// that do not exist yet are left to the watcher to skip.
func watchRoots(cfg config.Config) []string {
	roots := []string{cfg.PagesDir}
	for _, p := range []string{cfg.Template, cfg.MiddlewarePath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if !containsDir(roots, dir) {
			roots = append(roots, dir)
		}
	}
	return roots
}

func containsDir(roots []string, dir string) bool {
	for _, r := range roots {
		rel, err := filepath.Rel(r, dir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
