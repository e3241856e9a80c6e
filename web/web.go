// Package web is the runtime-agnostic request/response contract shared by the
// dev server core and every host adapter. Adapters convert their native
// request into a *Request, hand it to the core, and write the returned
// *Response back with FromWebResponse.
package web

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request is a normalized, self-contained request with an absolute URL.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	// Body is nil for GET and HEAD requests.
	Body io.ReadCloser

	ctx context.Context
}

// NewRequest builds a Request. A nil ctx means context.Background().
func NewRequest(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if header == nil {
		header = make(http.Header)
	}
	req := &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: header,
		ctx:    ctx,
	}
	if body != nil && !isBodyless(req.Method) {
		if rc, ok := body.(io.ReadCloser); ok {
			req.Body = rc
		} else {
			req.Body = io.NopCloser(body)
		}
	}
	return req, nil
}

// Context returns the request's context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r carrying ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// Path is shorthand for r.URL.Path.
func (r *Request) Path() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Path
}

// Response is what the core hands back to an adapter. A nil Body means no
// payload.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// NewResponse returns a response with an initialized header map.
func NewResponse(status int, body io.Reader) *Response {
	res := &Response{Status: status, Header: make(http.Header)}
	if body != nil {
		if rc, ok := body.(io.ReadCloser); ok {
			res.Body = rc
		} else {
			res.Body = io.NopCloser(body)
		}
	}
	return res
}

// HTMLResponse returns a text/html response.
func HTMLResponse(status int, html string) *Response {
	res := NewResponse(status, strings.NewReader(html))
	res.Header.Set("Content-Type", "text/html; charset=utf-8")
	return res
}

// TextResponse returns a text/plain response.
func TextResponse(status int, text string) *Response {
	res := NewResponse(status, strings.NewReader(text))
	res.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return res
}

// BytesResponse returns a response over an in-memory payload.
func BytesResponse(status int, contentType string, b []byte) *Response {
	res := NewResponse(status, bytes.NewReader(b))
	if contentType != "" {
		res.Header.Set("Content-Type", contentType)
	}
	return res
}

// Redirect returns an empty redirect response.
func Redirect(location string, status int) *Response {
	if status == 0 {
		status = http.StatusFound
	}
	res := NewResponse(status, nil)
	res.Header.Set("Location", location)
	return res
}

// ReadBody drains and closes the response body. Mostly useful in tests and in
// code paths that must post-process a rendered document.
func (r *Response) ReadBody() ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func isBodyless(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
