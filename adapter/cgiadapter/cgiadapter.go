// Package cgiadapter runs the request core as a CGI program, one request per
// process. Hot reload streams need a long lived process and are not served.
package cgiadapter

import (
	"log/slog"
	"net/http"
	"net/http/cgi"
	"os"
	"strconv"

	"github.com/vormadev/kiln/adapter/nethttp"
	"github.com/vormadev/kiln/devserver"
	"github.com/vormadev/kiln/hotreload"
	"github.com/vormadev/kiln/web"
)

// Handler adapts s for a CGI host. port is used when the request carries no
// Host header; zero means SERVER_PORT from the environment.
func Handler(s *devserver.Server, port int, log *slog.Logger) http.Handler {
	if port == 0 {
		port, _ = strconv.Atoi(os.Getenv("SERVER_PORT"))
	}
	core := nethttp.Adapt(s.Handle, port, log)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == hotreload.SubscribePath || r.URL.Path == hotreload.WebSocketPath {
			web.FromWebResponse(web.NotFoundResponse(r), r, w)
			return
		}
		core.ServeHTTP(w, r)
	})
}

// Serve handles the single request described by the process environment.
func Serve(s *devserver.Server, log *slog.Logger) error {
	return cgi.Serve(Handler(s, 0, log))
}
