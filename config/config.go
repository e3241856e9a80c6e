// Package config reads server settings from the environment. Values from
// .env files fill in keys the real environment leaves unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vormadev/kiln/manifest"
)

// Environment variable keys
const (
	EnvMode               = "KILN_MODE"
	EnvPort               = "PORT"
	EnvPagesDir           = "KILN_PAGES_DIR"
	EnvOutDir             = "KILN_OUT_DIR"
	EnvTemplate           = "KILN_TEMPLATE"
	EnvMiddleware         = "KILN_MIDDLEWARE"
	EnvPublicPath         = "KILN_PUBLIC_PATH"
	EnvBuildCommand       = "KILN_BUILD_CMD"
	EnvRenderCommand      = "KILN_RENDER_CMD"
	EnvModuleExt          = "KILN_MODULE_EXT"
	EnvScriptLoading      = "KILN_SCRIPT_LOADING"
	EnvClientEntryMode    = "KILN_CLIENT_ENTRY_MODE"
	EnvHash               = "KILN_HASH"
	EnvMinify             = "KILN_MINIFY"
	EnvLogLevel           = "KILN_LOG_LEVEL"
	EnvRebuildDebounce    = "KILN_REBUILD_DEBOUNCE"
	EnvMiddlewareDebounce = "KILN_MIDDLEWARE_DEBOUNCE"
	EnvKeepAlive          = "KILN_SSE_KEEPALIVE"
	EnvMetrics            = "KILN_METRICS"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type Config struct {
	Mode     string
	Port     int
	PagesDir string
	// OutDir holds public/, server/ and the manifest.
	OutDir         string
	Template       string
	MiddlewarePath string
	// PublicPath is the URL prefix of the public tree.
	PublicPath string
	// BuildCommand runs the external markup compiler. Empty means pages are
	// published by copying markup files.
	BuildCommand  []string
	RenderCommand []string
	ModuleExt     string
	ScriptLoading string

	ClientEntryMode string
	Hash            bool
	Minify          bool
	LogLevel        string

	RebuildDebounce    time.Duration
	MiddlewareDebounce time.Duration
	KeepAlive          time.Duration
	Metrics            bool
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Mode:               ModeDevelopment,
		Port:               8080,
		PagesDir:           filepath.Join("src", "pages"),
		OutDir:             "dist",
		Template:           filepath.Join("src", "template.html"),
		MiddlewarePath:     filepath.Join("src", "middleware.json"),
		PublicPath:         "/public/",
		ModuleExt:          ".tmpl",
		ScriptLoading:      "module",
		ClientEntryMode:    manifest.ClientEntryModeAll,
		LogLevel:           "info",
		RebuildDebounce:    250 * time.Millisecond,
		MiddlewareDebounce: 500 * time.Millisecond,
		KeepAlive:          15 * time.Second,
		Metrics:            true,
	}
}

func (c Config) IsDev() bool { return c.Mode == ModeDevelopment }

func (c Config) PublicDir() string { return filepath.Join(c.OutDir, "public") }
func (c Config) ServerDir() string { return filepath.Join(c.OutDir, "server") }
func (c Config) ManifestPath() string { return filepath.Join(c.OutDir, "routes.json") }

// Load reads the given .env files (missing ones are skipped) and then the
// process environment, which wins.
func Load(envFiles ...string) (Config, error) {
	lookup, err := EnvLookup(envFiles...)
	if err != nil {
		return Config{}, err
	}
	return FromLookup(lookup)
}

// EnvLookup returns a lookup over the process environment that falls back to
// the given .env files, earlier files first.
func EnvLookup(envFiles ...string) (func(string) (string, bool), error) {
	fileVals := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := fileVals[k]; !ok {
				fileVals[k] = v
			}
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}, nil
}

// FromLookup builds a Config from defaults overlaid with lookup.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	fields := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = strings.Fields(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	str(EnvMode, &c.Mode)
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvPort, err))
		} else {
			c.Port = p
		}
	}
	str(EnvPagesDir, &c.PagesDir)
	str(EnvOutDir, &c.OutDir)
	str(EnvTemplate, &c.Template)
	str(EnvMiddleware, &c.MiddlewarePath)
	if v, ok := lookup(EnvPublicPath); ok {
		c.PublicPath = strings.TrimSpace(v)
	}
	fields(EnvBuildCommand, &c.BuildCommand)
	fields(EnvRenderCommand, &c.RenderCommand)
	str(EnvModuleExt, &c.ModuleExt)
	str(EnvScriptLoading, &c.ScriptLoading)
	str(EnvClientEntryMode, &c.ClientEntryMode)
	c.Hash = c.Mode == ModeProduction
	c.Minify = c.Mode == ModeProduction
	boolean(EnvHash, &c.Hash)
	boolean(EnvMinify, &c.Minify)
	str(EnvLogLevel, &c.LogLevel)
	duration(EnvRebuildDebounce, &c.RebuildDebounce)
	duration(EnvMiddlewareDebounce, &c.MiddlewareDebounce)
	duration(EnvKeepAlive, &c.KeepAlive)
	boolean(EnvMetrics, &c.Metrics)

	if len(errs) > 0 {
		return c, errors.Join(errs...)
	}
	return c, c.Validate()
}

// Validate reports settings no server can start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.ScriptLoading {
	case "module", "defer", "async", "classic":
	default:
		errs = append(errs, fmt.Errorf("unknown script loading %q", c.ScriptLoading))
	}
	switch c.ClientEntryMode {
	case manifest.ClientEntryModeAll, manifest.ClientEntryModeFirst:
	default:
		errs = append(errs, fmt.Errorf("unknown client entry mode %q", c.ClientEntryMode))
	}
	if c.PagesDir == "" {
		errs = append(errs, errors.New("pages dir is required"))
	}
	if c.OutDir == "" {
		errs = append(errs, errors.New("out dir is required"))
	}
	return errors.Join(errs...)
}
