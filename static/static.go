// Package static serves the compiled public asset tree with conditional
// requests, byte ranges and precompressed variants.
package static

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vormadev/kiln/kit/colorlog"
	"github.com/vormadev/kiln/kit/fsutil"
	"github.com/vormadev/kiln/web"
)

var Log = colorlog.New("static")

// ErrForbidden is returned by Resolve for paths escaping the root.
var ErrForbidden = errors.New("static: path escapes root")

const (
	ImmutableCacheControl = "public, max-age=31536000, immutable"
	DefaultCacheControl   = "public, max-age=300"
)

// hashedName matches esbuild style content hashes ("main-ABCD2345.js") and
// hex digests ("app.3f9a1c0d.css").
var hashedName = regexp.MustCompile(`[._-]([0-9a-fA-F]{8,}|[A-Z2-7]{8})\.[A-Za-z0-9]+$`)

// IsHashedFilename reports whether name carries a content hash.
func IsHashedFilename(name string) bool {
	return hashedName.MatchString(path.Base(name))
}

type Options struct {
	// Root is the public output directory.
	Root string
	// Prefix is the URL path the tree is mounted under, e.g. "/public/".
	// Requests outside it fall through.
	Prefix string
	// Types overrides the extension allow-list.
	Types  map[string]string
	Logger *slog.Logger
}

type Server struct {
	root   string
	prefix string
	types  map[string]string
	log    *slog.Logger

	mu    sync.Mutex
	etags map[string]etagEntry
}

func New(opts Options) (*Server, error) {
	if opts.Root == "" {
		return nil, errors.New("static: root is required")
	}
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("static: resolve root: %w", err)
	}
	if evaluated, err := filepath.EvalSymlinks(abs); err == nil {
		abs = evaluated
	}
	types := opts.Types
	if types == nil {
		types = DefaultTypes
	}
	if opts.Logger == nil {
		opts.Logger = Log
	}
	prefix := opts.Prefix
	if prefix != "" {
		prefix = "/" + strings.Trim(prefix, "/")
		if prefix == "/" {
			prefix = ""
		}
	}
	return &Server{
		root:   abs,
		prefix: prefix,
		types:  types,
		log:    opts.Logger,
		etags:  make(map[string]etagEntry),
	}, nil
}

func (s *Server) Root() string { return s.root }

// Handles reports whether urlPath has an allow-listed extension.
func (s *Server) Handles(urlPath string) bool {
	_, ok := s.types[strings.ToLower(path.Ext(urlPath))]
	return ok
}

// Resolve maps a URL path to a file under the root. It returns ErrForbidden
// for any path containing a ".." segment or resolving (through symlinks)
// outside the root, and fs.ErrNotExist when the file is absent.
func (s *Server) Resolve(urlPath string) (string, error) {
	if hasDotDot(urlPath) {
		return "", ErrForbidden
	}
	rel := urlPath
	if s.prefix != "" {
		if rel != s.prefix && !strings.HasPrefix(rel, s.prefix+"/") {
			return "", os.ErrNotExist
		}
		rel = strings.TrimPrefix(rel, s.prefix)
	}
	rel = path.Clean("/" + rel)
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if !fsutil.IsWithin(s.root, full) {
		return "", ErrForbidden
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", err
	}
	if !fsutil.IsWithin(s.root, resolved) {
		return "", ErrForbidden
	}
	return resolved, nil
}

// Serve answers req from the asset tree. A nil response means the request
// is not for a static asset and dispatch should continue.
func (s *Server) Serve(req *web.Request) *web.Response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil
	}
	urlPath := req.Path()
	if hasDotDot(urlPath) {
		s.log.Warn("blocked path traversal", "path", urlPath)
		return forbidden(req)
	}
	contentType, ok := s.types[strings.ToLower(path.Ext(urlPath))]
	if !ok {
		return nil
	}

	full, err := s.Resolve(urlPath)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			s.log.Warn("blocked path traversal", "path", urlPath)
			return forbidden(req)
		}
		return nil
	}
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}

	v := s.pickVariant(full, info, contentType, req.Header.Get("Accept-Encoding"))
	etag, err := s.etagFor(v.path, v.info, v.suffix)
	if err != nil {
		s.log.Error("hash asset", "path", v.path, "error", err)
		return web.ServerErrorResponse(req)
	}

	res := web.NewResponse(http.StatusOK, nil)
	h := res.Header
	h.Set("Content-Type", contentType)
	if IsHashedFilename(full) {
		h.Set("Cache-Control", ImmutableCacheControl)
	} else {
		h.Set("Cache-Control", DefaultCacheControl)
	}
	h.Set("ETag", etag)
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	if isCompressible(contentType) {
		h.Set("Vary", "Accept-Encoding")
	}
	if v.encoding != "" {
		h.Set("Content-Encoding", v.encoding)
	} else {
		h.Set("Accept-Ranges", "bytes")
	}

	if notModified(req, etag, info.ModTime()) {
		res.Status = http.StatusNotModified
		h.Del("Content-Type")
		h.Del("Content-Encoding")
		h.Del("Accept-Ranges")
		return res
	}

	size := v.info.Size()
	start, length := int64(0), size
	if v.encoding == "" && (req.Method == http.MethodGet || req.Method == http.MethodHead) {
		if raw := req.Header.Get("Range"); raw != "" && ifRangeMatches(req, etag, info.ModTime()) {
			r, err := parseRange(raw, size)
			switch {
			case errors.Is(err, errMultiRange):
			case err != nil:
				out := web.NewResponse(http.StatusRequestedRangeNotSatisfiable, nil)
				out.Header.Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
				out.Header.Set("Cache-Control", h.Get("Cache-Control"))
				return out
			default:
				start, length = r.start, r.length
				res.Status = http.StatusPartialContent
				h.Set("Content-Range", r.contentRange(size))
			}
		}
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))

	if web.IsHeadRequest(req) {
		return res
	}
	f, err := os.Open(v.path)
	if err != nil {
		s.log.Error("open asset", "path", v.path, "error", err)
		return web.ServerErrorResponse(req)
	}
	res.Body = sectionBody{Reader: io.NewSectionReader(f, start, length), f: f}
	return res
}

func hasDotDot(urlPath string) bool {
	for seg := range strings.SplitSeq(strings.ReplaceAll(urlPath, "\\", "/"), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

type sectionBody struct {
	io.Reader
	f *os.File
}

func (b sectionBody) Close() error { return b.f.Close() }

func forbidden(req *web.Request) *web.Response {
	res := web.TextResponse(http.StatusForbidden, "Forbidden")
	res.Header.Set("Cache-Control", "no-store")
	return web.MaybeHeadResponse(res, req)
}

// notModified applies If-None-Match, falling back to If-Modified-Since only
// when no entity tag was sent.
func notModified(req *web.Request, etag string, modTime time.Time) bool {
	if inm := req.Header.Get("If-None-Match"); inm != "" {
		return etagListContains(inm, etag)
	}
	if ims := req.Header.Get("If-Modified-Since"); ims != "" {
		t, err := http.ParseTime(ims)
		if err != nil {
			return false
		}
		return !modTime.Truncate(time.Second).After(t)
	}
	return false
}

func ifRangeMatches(req *web.Request, etag string, modTime time.Time) bool {
	ir := req.Header.Get("If-Range")
	if ir == "" {
		return true
	}
	if strings.HasPrefix(ir, `"`) {
		return ir == etag
	}
	t, err := http.ParseTime(ir)
	return err == nil && modTime.Truncate(time.Second).Equal(t)
}

func etagListContains(list, etag string) bool {
	if strings.TrimSpace(list) == "*" {
		return true
	}
	for cand := range strings.SplitSeq(list, ",") {
		if strings.TrimPrefix(strings.TrimSpace(cand), "W/") == etag {
			return true
		}
	}
	return false
}
