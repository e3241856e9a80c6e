package web

import (
	"net/http"
	"strings"
)

// IsHeadRequest reports whether reqLike is a HEAD request. It accepts a
// *Request, a native *http.Request, or anything exposing its method via a
// GetMethod() string method. Comparison is case-insensitive.
func IsHeadRequest(reqLike any) bool {
	var method string
	switch r := reqLike.(type) {
	case *Request:
		if r == nil {
			return false
		}
		method = r.Method
	case *http.Request:
		if r == nil {
			return false
		}
		method = r.Method
	case interface{ GetMethod() string }:
		method = r.GetMethod()
	default:
		return false
	}
	return strings.EqualFold(method, http.MethodHead)
}

// ToHeadResponse returns a response with the same status and headers and no
// body. The original body is closed.
func ToHeadResponse(res *Response) *Response {
	if res == nil {
		return nil
	}
	if res.Body != nil {
		res.Body.Close()
	}
	return &Response{Status: res.Status, Header: res.Header.Clone()}
}

// MaybeHeadResponse strips the body only when reqLike is a HEAD request.
func MaybeHeadResponse(res *Response, reqLike any) *Response {
	if IsHeadRequest(reqLike) {
		return ToHeadResponse(res)
	}
	return res
}

// NotFoundResponse is the canned 404.
func NotFoundResponse(reqLike any) *Response {
	return cannedResponse(reqLike, http.StatusNotFound, "Not Found", "public, max-age=0, must-revalidate")
}

// ServerErrorResponse is the canned 500.
func ServerErrorResponse(reqLike any) *Response {
	return cannedResponse(reqLike, http.StatusInternalServerError, "Internal Server Error", "no-store")
}

func cannedResponse(reqLike any, status int, text, cacheControl string) *Response {
	var res *Response
	if IsHeadRequest(reqLike) {
		res = NewResponse(status, nil)
	} else {
		res = NewResponse(status, strings.NewReader(text))
	}
	res.Header.Set("Content-Type", "text/plain; charset=utf-8")
	res.Header.Set("Cache-Control", cacheControl)
	return res
}
