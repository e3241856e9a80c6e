// Package etag adds content-hash ETags to buffered responses and answers
// matching conditional requests with 304 Not Modified.
package etag

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vormadev/kiln/web"
)

type Config struct {
	Strong      bool
	Hash        func() hash.Hash // Default: sha1
	MaxBodySize int64            // Default: 8MB
	// BuildID, when set, is mixed into every tag so a deploy invalidates
	// cached documents even when the bytes are unchanged.
	BuildID string
}

// Apply tags res and returns either res (with a rewound body) or a 304.
// Non-GET/HEAD requests, non-200 statuses, no-store responses, responses
// setting cookies, and bodies larger than MaxBodySize pass through untouched.
func Apply(req *web.Request, res *web.Response, cfg Config) *web.Response {
	if res == nil || req == nil {
		return res
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return res
	}
	if !cacheable(res) {
		return res
	}
	if cfg.Hash == nil {
		cfg.Hash = sha1.New
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 8 * 1024 * 1024
	}

	body, tooBig, err := readLimited(res.Body, cfg.MaxBodySize)
	if err != nil {
		return web.ServerErrorResponse(req)
	}
	if tooBig {
		res.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), res.Body))
		return res
	}
	res.Body.Close()
	res.Body = io.NopCloser(bytes.NewReader(body))
	if len(body) == 0 {
		return res
	}

	tag := Generate(body, cfg)
	if inm := req.Header.Get("If-None-Match"); inm != "" && Matches(inm, tag) {
		return notModified(res, tag)
	}
	res.Header.Set("ETag", tag)
	res.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return res
}

// Generate hashes body (and the build id, if any) into an ETag.
func Generate(body []byte, cfg Config) string {
	if cfg.Hash == nil {
		cfg.Hash = sha1.New
	}
	h := cfg.Hash()
	h.Write(body)
	if cfg.BuildID != "" {
		h.Write([]byte(cfg.BuildID))
	}
	tag := hex.EncodeToString(h.Sum(nil))
	if !cfg.Strong {
		return `W/"` + tag + `"`
	}
	return `"` + tag + `"`
}

// Matches reports whether any candidate in an If-None-Match header matches
// etag using weak comparison.
func Matches(ifNoneMatch, etag string) bool {
	if strings.TrimSpace(ifNoneMatch) == "*" {
		return true
	}
	want := opaqueTag(etag)
	for cand := range strings.SplitSeq(ifNoneMatch, ",") {
		if opaqueTag(strings.TrimSpace(cand)) == want {
			return true
		}
	}
	return false
}

func opaqueTag(etag string) string {
	return strings.Trim(strings.TrimPrefix(etag, "W/"), `"`)
}

func cacheable(res *web.Response) bool {
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK || res.Body == nil {
		return false
	}
	if strings.Contains(res.Header.Get("Cache-Control"), "no-store") {
		return false
	}
	return res.Header.Get("Set-Cookie") == ""
}

func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(b)) > limit {
		return b, true, nil
	}
	return b, false, nil
}

// notModified strips payload headers from res and returns a bodiless 304.
func notModified(res *web.Response, etag string) *web.Response {
	if res.Body != nil {
		res.Body.Close()
	}
	h := res.Header.Clone()
	for k := range h {
		if IsPayloadHeader(k) {
			h.Del(k)
		}
	}
	h.Set("ETag", etag)
	return &web.Response{Status: http.StatusNotModified, Header: h}
}

// IsPayloadHeader reports whether header describes the representation body
// and must be dropped from a 304.
func IsPayloadHeader(header string) bool {
	switch strings.ToLower(header) {
	case "content-type", "content-length", "content-encoding",
		"content-language", "content-md5", "content-range",
		"content-disposition", "last-modified", "digest":
		return true
	default:
		return false
	}
}
