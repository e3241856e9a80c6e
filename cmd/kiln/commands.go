package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vormadev/kiln/adapter/nethttp"
	"github.com/vormadev/kiln/builder"
	"github.com/vormadev/kiln/config"
)

func devCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Build, watch and serve with hot reload",
		Example: `  kiln dev
  kiln dev --port 3000 --pages site/pages`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd, config.ModeDevelopment)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, true)
		},
	}
}

func serveCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a finished build",
		Long: `Serve the output of "kiln build" without watching. The manifest in the
output directory must exist.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd, config.ModeProduction)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, false)
		},
	}
}

func buildCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Compile pages and bundle client entries once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd, "")
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.dev.Rebuild(cmd.Context(), "")
			if err != nil {
				var be *builder.BuildError
				if errors.As(err, &be) {
					return fmt.Errorf("build failed:\n%s", be.Stderr)
				}
				return err
			}
			if res.ModuleErrors != nil {
				return fmt.Errorf("route modules failed to load: %w", res.ModuleErrors)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built %d routes into %s\n", res.Routes, cfg.OutDir)
			return nil
		},
	}
}

// runServer serves until the context ends or a signal arrives. In
// development the watcher runs alongside and does the initial build;
// otherwise the saved manifest is loaded first.
func runServer(ctx context.Context, cfg config.Config, watch bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger(cfg)
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if !watch {
		if err := a.server.LoadManifest(ctx, cfg.ManifestPath()); err != nil {
			return fmt.Errorf("load manifest (run kiln build first): %w", err)
		}
		if err := a.dev.ReloadMiddleware(); err != nil {
			return err
		}
	}

	srv := nethttp.NewServer(":"+strconv.Itoa(cfg.Port), a.server, nethttp.Options{
		Port:    cfg.Port,
		Metrics: cfg.Metrics,
		Logger:  log,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return nethttp.Serve(ctx, srv, log)
	})
	if watch {
		g.Go(func() error {
			return a.dev.Run(ctx)
		})
	}
	return g.Wait()
}
