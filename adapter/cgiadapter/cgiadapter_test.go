package cgiadapter

import (
	"bytes"
	"net/http"
	"net/http/cgi"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vormadev/kiln/internal/testsite"
	"github.com/vormadev/kiln/kit/colorlog"
)

func cgiServe(t *testing.T, h http.Handler, method, uri string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := cgi.RequestFromMap(map[string]string{
		"SERVER_PROTOCOL": "HTTP/1.1",
		"REQUEST_METHOD":  method,
		"HTTP_HOST":       "example.test",
		"REQUEST_URI":     uri,
		"SERVER_PORT":     "8080",
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler(t *testing.T) {
	site := testsite.New(t, false)
	h := Handler(site.Server, 8080, colorlog.Discard())

	tests := []struct {
		name   string
		method string
		uri    string
		status int
		want   string
	}{
		{"page", "GET", "/", 200, "<h1>Home</h1>"},
		{"fragment page", "GET", "/about?x=1", 200, "<p>About</p>"},
		{"missing", "GET", "/nope", 404, "Not Found"},
		{"head", "HEAD", "/", 200, ""},
		{"no event stream", "GET", "/hot-replace", 404, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := cgiServe(t, h, tt.method, tt.uri)
			if rec.Code != tt.status {
				t.Fatalf("status = %d", rec.Code)
			}
			if tt.want == "" && rec.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.want)
			}
		})
	}

	rec := cgiServe(t, h, "GET", "/public/logo.png")
	if !bytes.Equal(rec.Body.Bytes(), testsite.Binary) {
		t.Errorf("binary = %x", rec.Body.Bytes())
	}
}
