package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vormadev/kiln/hotreload"
	"github.com/vormadev/kiln/kit/etag"
	"github.com/vormadev/kiln/kit/fsutil"
	"github.com/vormadev/kiln/kit/htmlutil"
	"github.com/vormadev/kiln/manifest"
	"github.com/vormadev/kiln/metrics"
	"github.com/vormadev/kiln/modules"
	"github.com/vormadev/kiln/web"
)

const (
	devCacheControl  = "no-cache"
	prodCacheControl = "private, max-age=0, must-revalidate"
)

// Handle answers one request. It never returns nil and never panics on a
// bad route module.
func (s *Server) Handle(req *web.Request) *web.Response {
	ctx, span := s.tracer.Start(req.Context(), "kiln.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.Path()),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	res, kind := s.dispatch(req)
	if res == nil {
		res = web.NotFoundResponse(req)
	}
	if kind != metrics.KindHotReload {
		res = web.MaybeHeadResponse(res, req)
	}

	span.SetAttributes(attribute.Int("http.status_code", res.Status), attribute.String("kiln.kind", kind))
	if res.Status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(res.Status))
	}
	s.opts.Metrics.ObserveRequest(kind, res.Status)
	return res
}

func (s *Server) dispatch(req *web.Request) (*web.Response, string) {
	p := req.Path()

	if s.opts.Dev {
		switch p {
		case hotreload.SubscribePath:
			if req.Method == http.MethodGet {
				return s.subscribe(req), metrics.KindHotReload
			}
		case hotreload.ClientScriptURL:
			res := web.BytesResponse(http.StatusOK, "text/javascript; charset=utf-8", hotreload.ClientScript())
			res.Header.Set("Cache-Control", devCacheControl)
			return res, metrics.KindInternal
		}
	}

	chain := *s.chain.Load()
	if len(chain) > 0 {
		res, err := chain.Run(req)
		if err != nil {
			s.log.Error("middleware failed", "path", p, "error", err)
			return s.errorPage(req, s.snap.Load(), err), metrics.KindMiddleware
		}
		if res != nil {
			return res, metrics.KindMiddleware
		}
	}

	if s.static.Handles(p) {
		if res := s.static.Serve(req); res != nil {
			return res, metrics.KindStatic
		}
	}

	return s.servePage(req), metrics.KindPage
}

// subscribe registers an SSE client. The response body is the stream
// itself and stays open until the client goes away.
func (s *Server) subscribe(req *web.Request) *web.Response {
	sink := hotreload.NewSSESink(s.opts.KeepAlive)
	s.hot.Register(hotreload.PathFromHref(req.URL.Query().Get("href")), sink)
	go func() {
		select {
		case <-req.Context().Done():
			sink.Close()
		case <-sink.Done():
		}
	}()

	res := web.NewResponse(http.StatusOK, sink)
	res.Header.Set("Content-Type", "text/event-stream")
	res.Header.Set("Cache-Control", "no-cache")
	res.Header.Set("Connection", "keep-alive")
	res.Header.Set("X-Accel-Buffering", "no")
	return res
}

func (s *Server) servePage(req *web.Request) *web.Response {
	snap := s.snap.Load()
	entry, params, ok := snap.router.Match(req.Path())
	if !ok {
		return s.notFoundPage(req, snap)
	}

	html, err := s.renderRoute(req.Context(), snap, entry, params, req.Path())
	if err != nil {
		s.log.Error("render failed", "route", entry.Path(), "error", err)
		return s.errorPage(req, snap, err)
	}
	doc, err := s.renderDocument(html, req.Path())
	if err != nil {
		s.log.Error("document failed", "route", entry.Path(), "error", err)
		return s.errorPage(req, snap, err)
	}
	return s.documentResponse(req, http.StatusOK, s.inject(doc, entry))
}

// renderRoute loads and executes a route module. Panics in the module are
// returned as a RenderError.
func (s *Server) renderRoute(ctx context.Context, snap *snapshot, entry *manifest.RouteEntry, params map[string]string, reqPath string) (html string, err error) {
	ctx, span := s.tracer.Start(ctx, "kiln.render", trace.WithAttributes(attribute.String("kiln.route", entry.Path())))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &RenderError{Route: entry.Path(), Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.opts.Metrics.ObserveRender(entry.RoutePattern, time.Since(start))
	}()

	mod := s.loader.Load(ctx, s.loader.ModulePath(entry), modules.LoadOptions{Cache: snap.cache})
	if params == nil {
		params = map[string]string{}
	}
	html, err = mod.Render(modules.WithRequestPath(ctx, reqPath), params)
	if err != nil {
		return "", &RenderError{Route: entry.Path(), Err: err}
	}
	return html, nil
}

// renderCustomPage runs _404 or _500. ok is false when the page is absent
// or fails in any way.
func (s *Server) renderCustomPage(req *web.Request, snap *snapshot, name string) (doc string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("custom page panicked", "page", name, "panic", r)
			doc, ok = "", false
		}
	}()
	path := s.customPagePath(name)
	if !fsutil.IsFile(path) {
		return "", false
	}
	mod := s.loader.Load(req.Context(), path, modules.LoadOptions{Cache: snap.cache})
	if modules.IsStub(mod) {
		return "", false
	}
	html, err := mod.Render(modules.WithRequestPath(req.Context(), req.Path()), map[string]string{})
	if err != nil {
		s.log.Error("custom page failed", "page", name, "error", err)
		return "", false
	}
	if !htmlutil.IsFullDocument(html) {
		s.log.Warn("custom page did not return a full document", "page", name)
		return "", false
	}
	return html, true
}

func (s *Server) notFoundPage(req *web.Request, snap *snapshot) *web.Response {
	doc, ok := s.renderCustomPage(req, snap, NotFoundPage)
	if !ok {
		return web.NotFoundResponse(req)
	}
	return s.documentResponse(req, http.StatusNotFound, s.inject(doc, nil))
}

func (s *Server) errorPage(req *web.Request, snap *snapshot, cause error) *web.Response {
	doc, ok := s.renderCustomPage(req, snap, ServerErrorPage)
	if !ok {
		return web.ServerErrorResponse(req)
	}
	s.log.Debug("served custom error page", "cause", cause)
	return s.documentResponse(req, http.StatusInternalServerError, s.inject(doc, nil))
}

// inject adds, before </head> and in this order: the build error banner,
// the route's stylesheets not already linked, its scripts and the hot
// reload bootstrap. Outside development only route assets are added.
func (s *Server) inject(doc string, entry *manifest.RouteEntry) string {
	var sb strings.Builder
	if s.opts.Dev {
		if text := s.BuildError(); text != "" {
			sb.WriteString(htmlutil.InlineScript(bannerScript(text)))
		}
	}
	if entry != nil && entry.Assets != nil {
		linked := htmlutil.LinkedStylesheets(doc)
		for _, href := range entry.Assets.CSS {
			if _, ok := linked[href]; ok {
				continue
			}
			sb.WriteString(htmlutil.StylesheetLink(href))
		}
		for _, src := range entry.Assets.JS {
			sb.WriteString(htmlutil.ScriptTag(src, entry.ScriptLoading))
		}
	}
	if s.opts.Dev {
		sb.WriteString(htmlutil.ScriptTag(hotreload.ClientScriptURL, "module"))
	}
	if sb.Len() == 0 {
		return doc
	}
	return htmlutil.InjectBeforeHeadClose(doc, sb.String())
}

func (s *Server) documentResponse(req *web.Request, status int, doc string) *web.Response {
	if s.minifier != nil && !s.opts.Dev {
		if out, err := s.minifier.String("text/html", doc); err == nil {
			doc = out
		} else {
			s.log.Warn("minify failed", "error", err)
		}
	}
	res := web.HTMLResponse(status, doc)
	if s.opts.Dev {
		res.Header.Set("Cache-Control", devCacheControl)
		return res
	}
	res.Header.Set("Cache-Control", prodCacheControl)
	return etag.Apply(req, res, s.opts.ETag)
}

// HotReplacePayload renders the page at path for a hot reload client.
func (s *Server) HotReplacePayload(ctx context.Context, path string) ([]byte, error) {
	snap := s.snap.Load()
	entry, params, ok := snap.router.Match(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, path)
	}
	return hotreload.BuildHotReplacePayload(ctx, hotreload.PayloadInput{
		Route:  entry,
		Params: params,
		Render: func(ctx context.Context, params map[string]string) (string, error) {
			html, err := s.renderRoute(ctx, snap, entry, params, path)
			if err != nil {
				return "", err
			}
			return s.renderDocument(html, path)
		},
		PublicPath: s.opts.PublicPath,
	})
}

const bannerTemplate = `(function(){var text=%s;function show(){var el=document.getElementById("kiln-build-error");` +
	`if(!el){el=document.createElement("pre");el.id="kiln-build-error";` +
	`el.setAttribute("style","position:fixed;top:0;left:0;right:0;z-index:2147483647;max-height:50vh;overflow:auto;margin:0;` +
	`padding:12px 16px;background:#2b0b0b;color:#ffb4b4;font:13px/1.45 ui-monospace,monospace;white-space:pre-wrap");` +
	`document.body.appendChild(el)}el.textContent=text}` +
	`if(document.body)show();else document.addEventListener("DOMContentLoaded",show)})();`

// bannerScript shows build stderr in an overlay. json.Marshal escapes <, >
// and & so the text cannot close the script element.
func bannerScript(text string) string {
	encoded, _ := json.Marshal(text)
	return fmt.Sprintf(bannerTemplate, encoded)
}
