package web

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestToWebRequest(t *testing.T) {
	t.Run("absolute URL from host header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/about?x=1", nil)
		r.Host = "example.com:8080"
		req := ToWebRequest(r, 3000)
		if got := req.URL.String(); got != "http://example.com:8080/about?x=1" {
			t.Errorf("URL = %q", got)
		}
		if req.Body != nil {
			t.Error("GET request should have no body")
		}
	})

	t.Run("falls back to localhost port", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = ""
		req := ToWebRequest(r, 4321)
		if req.URL.Host != "localhost:4321" {
			t.Errorf("Host = %q, want localhost:4321", req.URL.Host)
		}
	})

	t.Run("joins multi-valued headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Add("Accept", "text/html")
		r.Header.Add("Accept", "application/json")
		r.Header.Add("Cookie", "a=1")
		r.Header.Add("Cookie", "b=2")
		req := ToWebRequest(r, 3000)
		if got := req.Header.Get("Accept"); got != "text/html, application/json" {
			t.Errorf("Accept = %q", got)
		}
		if got := req.Header.Get("Cookie"); got != "a=1; b=2" {
			t.Errorf("Cookie = %q", got)
		}
	})

	t.Run("body attached for POST", func(t *testing.T) {
		r := httptest.NewRequest("post", "/submit", strings.NewReader("payload"))
		req := ToWebRequest(r, 3000)
		if req.Method != http.MethodPost {
			t.Errorf("Method = %q", req.Method)
		}
		b, _ := io.ReadAll(req.Body)
		if string(b) != "payload" {
			t.Errorf("body = %q", b)
		}
	})

	t.Run("forwarded https", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Forwarded-Proto", "https")
		req := ToWebRequest(r, 3000)
		if req.URL.Scheme != "https" {
			t.Errorf("Scheme = %q", req.URL.Scheme)
		}
	})
}

func TestFromWebResponse(t *testing.T) {
	t.Run("binary body is byte exact", func(t *testing.T) {
		payload := []byte{0x00, 0xff, 0x10, 0x80, '\n', 0x00}
		res := BytesResponse(http.StatusOK, "application/octet-stream", payload)
		res.Header.Set("X-Custom", "yes")
		r := httptest.NewRequest(http.MethodGet, "/bin", nil)
		w := httptest.NewRecorder()
		if err := FromWebResponse(res, r, w); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(w.Body.Bytes(), payload) {
			t.Errorf("body = %v, want %v", w.Body.Bytes(), payload)
		}
		if w.Header().Get("X-Custom") != "yes" {
			t.Error("custom header not copied")
		}
	})

	t.Run("nil response is 404", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		if err := FromWebResponse(nil, r, w); err != nil {
			t.Fatal(err)
		}
		if w.Code != http.StatusNotFound || w.Body.String() != "Not Found" {
			t.Errorf("got %d %q", w.Code, w.Body.String())
		}
	})

	t.Run("HEAD writes no body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodHead, "/", nil)
		w := httptest.NewRecorder()
		if err := FromWebResponse(TextResponse(http.StatusOK, "hello"), r, w); err != nil {
			t.Fatal(err)
		}
		if w.Body.Len() != 0 {
			t.Errorf("body = %q, want empty", w.Body.String())
		}
		if w.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
			t.Error("headers should still be written")
		}
	})

	t.Run("flushes streamed chunks", func(t *testing.T) {
		pr, pw := io.Pipe()
		res := NewResponse(http.StatusOK, pr)
		res.Header.Set("Content-Type", "text/event-stream")
		r := httptest.NewRequest(http.MethodGet, "/hot-replace", nil)
		w := httptest.NewRecorder()
		done := make(chan error, 1)
		go func() { done <- FromWebResponse(res, r, w) }()
		pw.Write([]byte("data: one\n\n"))
		pw.Close()
		if err := <-done; err != nil {
			t.Fatal(err)
		}
		if !w.Flushed {
			t.Error("expected writer to be flushed")
		}
		if w.Body.String() != "data: one\n\n" {
			t.Errorf("body = %q", w.Body.String())
		}
	})
}

func TestIsHeadRequest(t *testing.T) {
	native := httptest.NewRequest("head", "/", nil)
	std, _ := NewRequest(context.Background(), "HeAd", "http://localhost/", nil, nil)
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{"native lowercase", native, true},
		{"standard mixed case", std, true},
		{"GET", httptest.NewRequest(http.MethodGet, "/", nil), false},
		{"nil", nil, false},
		{"unrelated", "HEAD", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHeadRequest(tt.in); got != tt.want {
				t.Errorf("IsHeadRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeadResponseMatchesGet(t *testing.T) {
	get := HTMLResponse(http.StatusTeapot, "<p>hi</p>")
	get.Header.Set("ETag", `"abc"`)
	head := ToHeadResponse(get)
	if head.Body != nil {
		t.Error("HEAD response must have nil body")
	}
	if head.Status != get.Status {
		t.Errorf("status = %d, want %d", head.Status, get.Status)
	}
	for k := range get.Header {
		if head.Header.Get(k) != get.Header.Get(k) {
			t.Errorf("header %s differs", k)
		}
	}

	getReq := httptest.NewRequest(http.MethodGet, "/", nil)
	kept := MaybeHeadResponse(TextResponse(200, "x"), getReq)
	if b, _ := kept.ReadBody(); string(b) != "x" {
		t.Errorf("MaybeHeadResponse stripped a GET body: %q", b)
	}
}

func TestCannedResponses(t *testing.T) {
	tests := []struct {
		name         string
		res          *Response
		status       int
		cacheControl string
		body         string
	}{
		{"not found", NotFoundResponse(nil), 404, "public, max-age=0, must-revalidate", "Not Found"},
		{"server error", ServerErrorResponse(nil), 500, "no-store", "Internal Server Error"},
		{"not found HEAD", NotFoundResponse(httptest.NewRequest(http.MethodHead, "/", nil)), 404, "public, max-age=0, must-revalidate", ""},
		{"server error HEAD", ServerErrorResponse(httptest.NewRequest(http.MethodHead, "/", nil)), 500, "no-store", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.res.Status != tt.status {
				t.Errorf("status = %d, want %d", tt.res.Status, tt.status)
			}
			if ct := tt.res.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
				t.Errorf("Content-Type = %q", ct)
			}
			if cc := tt.res.Header.Get("Cache-Control"); cc != tt.cacheControl {
				t.Errorf("Cache-Control = %q, want %q", cc, tt.cacheControl)
			}
			b, _ := tt.res.ReadBody()
			if string(b) != tt.body {
				t.Errorf("body = %q, want %q", b, tt.body)
			}
			if tt.body == "" && tt.res.Body != nil {
				t.Error("HEAD canned response should have nil body")
			}
		})
	}
}
