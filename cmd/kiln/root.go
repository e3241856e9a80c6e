package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vormadev/kiln/config"
)

// flags holds the persistent overrides. Unset flags leave the environment's
// value in place.
type flags struct {
	envFiles   []string
	port       int
	pagesDir   string
	outDir     string
	template   string
	publicPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "kiln",
		Short: "Page tree dev server with hot reload",
		Long: `kiln compiles a directory of pages with an external markup compiler,
bundles client entries with esbuild and serves the result.

In development every change to the tree triggers a debounced rebuild and
connected browsers swap in the new body without a full reload.

Configuration comes from KILN_* environment variables and .env files;
flags win over both.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f.register(root.PersistentFlags())

	root.AddCommand(
		devCmd(f),
		serveCmd(f),
		buildCmd(f),
	)
	return root
}

func (f *flags) register(pf *pflag.FlagSet) {
	pf.StringSliceVar(&f.envFiles, "env-file", []string{".env"}, "env files to read (missing files are skipped)")
	pf.IntVarP(&f.port, "port", "p", 0, "port to listen on")
	pf.StringVar(&f.pagesDir, "pages", "", "pages directory")
	pf.StringVar(&f.outDir, "out", "", "output directory")
	pf.StringVar(&f.template, "template", "", "document template")
	pf.StringVar(&f.publicPath, "public-path", "", "URL prefix of the public tree")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
}

// load reads the configuration and applies flag overrides. mode, when set,
// replaces the configured mode.
func (f *flags) load(cmd *cobra.Command, mode string) (config.Config, error) {
	lookup, err := config.EnvLookup(f.envFiles...)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.FromLookup(func(key string) (string, bool) {
		if key == config.EnvMode && mode != "" {
			return mode, true
		}
		return lookup(key)
	})
	if err != nil {
		return cfg, err
	}

	pf := cmd.Flags()
	if pf.Changed("port") {
		cfg.Port = f.port
	}
	if pf.Changed("pages") {
		cfg.PagesDir = f.pagesDir
	}
	if pf.Changed("out") {
		cfg.OutDir = f.outDir
	}
	if pf.Changed("template") {
		cfg.Template = f.template
	}
	if pf.Changed("public-path") {
		cfg.PublicPath = f.publicPath
	}
	if pf.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}
