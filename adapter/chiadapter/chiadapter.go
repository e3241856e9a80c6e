// Package chiadapter mounts the request core on a chi router.
package chiadapter

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vormadev/kiln/adapter/nethttp"
	"github.com/vormadev/kiln/devserver"
	"github.com/vormadev/kiln/hotreload"
)

type Options struct {
	Port    int
	Metrics bool
	Logger  *slog.Logger
	// Compress enables response compression at this level (1-9).
	Compress int
}

// Mount registers the hot reload websocket (dev only), the metrics endpoint
// and a catch-all route for the core. Routes the caller registered before
// keep precedence over the catch-all.
func Mount(r chi.Router, s *devserver.Server, opts Options) {
	if s.IsDev() {
		r.Get(hotreload.WebSocketPath, s.Broadcaster().ServeWebSocket)
	}
	if opts.Metrics && s.Metrics() != nil {
		r.Handle(nethttp.MetricsPath, s.Metrics().Handler())
	}
	core := nethttp.Adapt(s.Handle, opts.Port, opts.Logger)
	r.Handle("/", core)
	r.Handle("/*", core)
}

// NewRouter returns a chi router with panic recovery in front of the core.
func NewRouter(s *devserver.Server, opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if opts.Compress > 0 {
		r.Use(chimw.Compress(opts.Compress))
	}
	Mount(r, s, opts)
	return r
}
