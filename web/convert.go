package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ToWebRequest normalizes a native net/http request. The URL is made absolute
// from the Host header, falling back to localhost:<port> when the header is
// absent. Multi-valued headers are joined into one value.
func ToWebRequest(r *http.Request, port int) *Request {
	host := r.Host
	if host == "" {
		host = r.Header.Get("Host")
	}
	if host == "" {
		host = "localhost:" + strconv.Itoa(port)
	}

	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}

	u := *r.URL
	u.Scheme = scheme
	u.Host = host
	if u.Path == "" {
		u.Path = "/"
	}

	header := make(http.Header, len(r.Header))
	for k, vals := range r.Header {
		switch len(vals) {
		case 0:
		case 1:
			header[k] = []string{vals[0]}
		default:
			sep := ", "
			if http.CanonicalHeaderKey(k) == "Cookie" {
				sep = "; "
			}
			header[k] = []string{strings.Join(vals, sep)}
		}
	}

	req := &Request{
		Method: strings.ToUpper(r.Method),
		URL:    &u,
		Header: header,
		ctx:    r.Context(),
	}
	if !isBodyless(req.Method) && r.Body != nil && r.Body != http.NoBody {
		req.Body = r.Body
	}
	return req
}

// FromWebResponse writes res to w. Headers and status are copied verbatim and
// the body is streamed byte for byte, flushing after every chunk so that
// long-lived streams (server-sent events) reach the client immediately. HEAD
// requests get no body. A nil res becomes a plain-text 404.
func FromWebResponse(res *Response, r *http.Request, w http.ResponseWriter) error {
	if res == nil {
		res = NotFoundResponse(r)
	}
	if res.Body != nil {
		defer res.Body.Close()
	}

	dst := w.Header()
	for k, vals := range res.Header {
		dst[k] = append([]string(nil), vals...)
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if res.Body == nil || IsHeadRequest(r) || !bodyAllowed(status) {
		return nil
	}
	return copyFlushing(w, res.Body)
}

func copyFlushing(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
