package chiadapter

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vormadev/kiln/adapter/nethttp"
	"github.com/vormadev/kiln/internal/testsite"
	"github.com/vormadev/kiln/kit/colorlog"
)

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterServesCore(t *testing.T) {
	site := testsite.New(t, true)
	r := NewRouter(site.Server, Options{Metrics: true, Logger: colorlog.Discard()})

	tests := []struct {
		name   string
		target string
		status int
		want   string
	}{
		{"root", "/", 200, "<h1>Home</h1>"},
		{"nested", "/about", 200, "<p>About</p>"},
		{"missing", "/nope", 404, "Not Found"},
		{"metrics", nethttp.MetricsPath, 200, "kiln_requests_total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(r, "GET", tt.target, nil)
			if rec.Code != tt.status || !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("GET %s = %d %q", tt.target, rec.Code, rec.Body.String())
			}
		})
	}

	rec := serve(r, "GET", "/public/logo.png", nil)
	if !bytes.Equal(rec.Body.Bytes(), testsite.Binary) {
		t.Errorf("binary = %x", rec.Body.Bytes())
	}
}

func TestMountKeepsCallerRoutes(t *testing.T) {
	site := testsite.New(t, false)
	r := NewRouter(site.Server, Options{Logger: colorlog.Discard()})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	if rec := serve(r, "GET", "/healthz", nil); rec.Body.String() != "ok" {
		t.Errorf("healthz = %q", rec.Body.String())
	}
	if rec := serve(r, "GET", "/", nil); rec.Code != 200 {
		t.Errorf("root = %d", rec.Code)
	}
	if rec := serve(r, "GET", nethttp.MetricsPath, nil); rec.Code != 404 {
		t.Errorf("metrics without opt-in = %d", rec.Code)
	}
}

func TestCompression(t *testing.T) {
	site := testsite.New(t, true)
	r := NewRouter(site.Server, Options{Compress: 5, Logger: colorlog.Discard()})

	rec := serve(r, "GET", "/", http.Header{"Accept-Encoding": {"gzip"}})
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("encoding = %q", rec.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "<h1>Home</h1>") {
		t.Errorf("body = %s", body)
	}
}
