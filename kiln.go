// Package kiln is the top-level API of the dev server engine: a server over
// a compiled page tree and the rebuild pipeline that keeps it current.
package kiln

import (
	"github.com/vormadev/kiln/adapter/nethttp"
	"github.com/vormadev/kiln/builder"
	"github.com/vormadev/kiln/config"
	"github.com/vormadev/kiln/devserver"
	"github.com/vormadev/kiln/manifest"
	"github.com/vormadev/kiln/middleware"
	"github.com/vormadev/kiln/modules"
	"github.com/vormadev/kiln/web"
)

type (
	Server         = devserver.Server
	ServerOptions  = devserver.Options
	Dev            = devserver.Dev
	DevOptions     = devserver.DevOptions
	RebuildResult  = devserver.RebuildResult
	Config         = config.Config
	Manifest       = manifest.Manifest
	RouteEntry     = manifest.RouteEntry
	Module         = modules.Module
	Importer       = modules.Importer
	Spawner        = builder.Spawner
	Request        = web.Request
	Response       = web.Response
	MiddlewareFunc = middleware.Func
	Registry       = middleware.Registry
)

var (
	NewServer     = devserver.New
	NewDev        = devserver.NewDev
	LoadConfig    = config.Load
	BuildManifest = manifest.Build
	SaveManifest  = manifest.Save
	Handler       = nethttp.Handler
	NewHTTPServer = nethttp.NewServer
	Serve         = nethttp.Serve
)
