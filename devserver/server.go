// Package devserver is the request-handling core. Server.Handle answers a
// web.Request using the current route snapshot, and Dev keeps that snapshot
// fresh by rebuilding on filesystem changes.
package devserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tdewolff/minify/v2"
	minifyhtml "github.com/tdewolff/minify/v2/html"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vormadev/kiln/hotreload"
	"github.com/vormadev/kiln/kit/colorlog"
	"github.com/vormadev/kiln/kit/etag"
	"github.com/vormadev/kiln/kit/fsutil"
	"github.com/vormadev/kiln/kit/htmlutil"
	"github.com/vormadev/kiln/manifest"
	"github.com/vormadev/kiln/metrics"
	"github.com/vormadev/kiln/middleware"
	"github.com/vormadev/kiln/modules"
	"github.com/vormadev/kiln/static"
)

var Log = colorlog.New("devserver")

const tracerName = "github.com/vormadev/kiln/devserver"

// Custom error page modules, looked up in the server output dir.
const (
	NotFoundPage    = "_404"
	ServerErrorPage = "_500"
)

var ErrRouteNotFound = errors.New("route not found")

// RenderError wraps a failure while executing a route's module.
type RenderError struct {
	Route string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Route, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

type Options struct {
	Dev bool
	// PublicDir is served under PublicPath.
	PublicDir  string
	PublicPath string
	ServerDir  string
	// Template is the document shell fragments are rendered into. It must
	// exist at startup.
	Template  string
	ModuleExt string // Default: ".tmpl"

	Importer modules.Importer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Tracer   trace.Tracer

	// Minify rendered documents outside development.
	Minify bool
	ETag   etag.Config
	// KeepAlive is the SSE comment interval. Default: 15s.
	KeepAlive time.Duration
}

// snapshot is replaced wholesale, so a request sees one consistent
// manifest, router and module cache.
type snapshot struct {
	manifest manifest.Manifest
	router   *manifest.Router
	cache    *modules.Cache
}

type Server struct {
	opts     Options
	log      *slog.Logger
	tracer   trace.Tracer
	static   *static.Server
	loader   *modules.Loader
	hot      *hotreload.Broadcaster
	minifier *minify.M

	snap     atomic.Pointer[snapshot]
	chain    atomic.Pointer[middleware.Chain]
	buildErr atomic.Pointer[string]
	document atomic.Pointer[template.Template]
}

// New validates opts and parses the document template. A missing template
// is a startup error.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = Log
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.ModuleExt == "" {
		opts.ModuleExt = ".tmpl"
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.PublicDir == "" || opts.ServerDir == "" {
		return nil, errors.New("devserver: public and server dirs are required")
	}

	s := &Server{
		opts:   opts,
		log:    opts.Logger,
		tracer: opts.Tracer,
		loader: modules.NewLoader(modules.LoaderOptions{
			Importer:  opts.Importer,
			ServerDir: opts.ServerDir,
			Logger:    opts.Logger,
			OnError:   func(string, error) { opts.Metrics.IncModuleLoadError() },
		}),
		hot: hotreload.NewBroadcaster(hotreload.Options{
			Logger:           opts.Logger,
			OnClientsChanged: opts.Metrics.SetHotReloadClients,
			OnSendFailure:    opts.Metrics.IncBroadcastFailure,
		}),
	}
	if err := s.ReloadTemplate(); err != nil {
		return nil, err
	}

	if err := fsutil.EnsureDir(opts.PublicDir); err != nil {
		return nil, fmt.Errorf("devserver: public dir: %w", err)
	}
	st, err := static.New(static.Options{Root: opts.PublicDir, Prefix: opts.PublicPath, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	s.static = st

	if opts.Minify {
		s.minifier = minify.New()
		s.minifier.Add("text/html", &minifyhtml.Minifier{
			KeepDocumentTags: true,
			KeepEndTags:      true,
			KeepQuotes:       true,
		})
	}

	s.snap.Store(&snapshot{router: manifest.NewRouter(nil), cache: modules.NewCache()})
	s.chain.Store(&middleware.Chain{})
	empty := ""
	s.buildErr.Store(&empty)
	return s, nil
}

// ReloadTemplate re-parses the document template from disk.
func (s *Server) ReloadTemplate() error {
	if _, err := os.Stat(s.opts.Template); err != nil {
		return fmt.Errorf("devserver: document template: %w", err)
	}
	tmpl, err := template.ParseFiles(s.opts.Template)
	if err != nil {
		return fmt.Errorf("devserver: parse document template: %w", err)
	}
	s.document.Store(tmpl)
	return nil
}

func (s *Server) IsDev() bool { return s.opts.Dev }

func (s *Server) Loader() *modules.Loader { return s.loader }

func (s *Server) Broadcaster() *hotreload.Broadcaster { return s.hot }

func (s *Server) Metrics() *metrics.Metrics { return s.opts.Metrics }

// Manifest returns the manifest of the current snapshot.
func (s *Server) Manifest() manifest.Manifest { return s.snap.Load().manifest }

// Swap installs a new manifest and module cache in one step.
func (s *Server) Swap(m manifest.Manifest, cache *modules.Cache) {
	if cache == nil {
		cache = modules.NewCache()
	}
	s.snap.Store(&snapshot{manifest: m, router: manifest.NewRouter(m), cache: cache})
}

// LoadManifest reads the manifest at path, imports every route module and
// swaps both in.
func (s *Server) LoadManifest(ctx context.Context, path string) error {
	m, err := manifest.Reload(ctx, path, manifest.ReloadOptions{})
	if err != nil {
		return err
	}
	cache, err := s.loader.ReloadAll(ctx, m, s.snap.Load().cache)
	if err != nil && ctx.Err() != nil {
		return err
	}
	if err != nil {
		s.log.Warn("some route modules failed to load", "error", err)
	}
	s.Swap(m, cache)
	return nil
}

func (s *Server) SetMiddleware(c middleware.Chain) { s.chain.Store(&c) }

// SetBuildError records the last build's stderr. Empty clears it.
func (s *Server) SetBuildError(text string) { s.buildErr.Store(&text) }

func (s *Server) BuildError() string { return *s.buildErr.Load() }

// Close disconnects every hot reload client.
func (s *Server) Close() { s.hot.Close() }

func (s *Server) customPagePath(name string) string {
	return filepath.Join(s.opts.ServerDir, name+s.opts.ModuleExt)
}

// renderDocument wraps fragments into the document template.
func (s *Server) renderDocument(html string, path string) (string, error) {
	if htmlutil.IsFullDocument(html) {
		return html, nil
	}
	var buf bytes.Buffer
	err := s.document.Load().Execute(&buf, DocumentData{Body: template.HTML(html), Path: path})
	if err != nil {
		return "", fmt.Errorf("document template: %w", err)
	}
	return buf.String(), nil
}

// DocumentData is what the document template receives.
type DocumentData struct {
	Body template.HTML
	Path string
}
