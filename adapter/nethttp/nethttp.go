// Package nethttp binds the request core to net/http. Besides the core it
// serves the websocket hot reload endpoint and the metrics endpoint, and it
// accepts HTTP/2 without TLS.
package nethttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/vormadev/kiln/devserver"
	"github.com/vormadev/kiln/hotreload"
	"github.com/vormadev/kiln/kit/colorlog"
	"github.com/vormadev/kiln/kit/grace"
	"github.com/vormadev/kiln/web"
)

var Log = colorlog.New("http")

const MetricsPath = "/__kiln/metrics"

type Options struct {
	// Port is the fallback for requests without a Host header.
	Port    int
	Metrics bool
	Logger  *slog.Logger
}

// HandleFunc is the shape of the request core.
type HandleFunc func(*web.Request) *web.Response

// Adapt converts between net/http and the core's request and response.
func Adapt(h HandleFunc, port int, log *slog.Logger) http.Handler {
	if log == nil {
		log = Log
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := h(web.ToWebRequest(r, port))
		if err := web.FromWebResponse(res, r, w); err != nil && r.Context().Err() == nil {
			log.Debug("write response", "path", r.URL.Path, "error", err)
		}
	})
}

// Handler routes the websocket and metrics endpoints and sends everything
// else to s.
func Handler(s *devserver.Server, opts Options) http.Handler {
	mux := http.NewServeMux()
	if s.IsDev() {
		mux.HandleFunc(hotreload.WebSocketPath, s.Broadcaster().ServeWebSocket)
	}
	if opts.Metrics && s.Metrics() != nil {
		mux.Handle(MetricsPath, s.Metrics().Handler())
	}
	mux.Handle("/", Adapt(s.Handle, opts.Port, opts.Logger))
	return mux
}

// NewServer wraps Handler with h2c. Shutting the server down disconnects
// hot reload clients first so their streams do not hold it open.
func NewServer(addr string, s *devserver.Server, opts Options) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(Handler(s, opts), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.Close)
	return srv
}

// Serve runs srv until ctx is done or a shutdown signal arrives.
func Serve(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	if log == nil {
		log = Log
	}
	return grace.Orchestrate(ctx, grace.Options{
		Logger: log,
		Start: func(context.Context) error {
			log.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		Stop: srv.Shutdown,
	})
}
