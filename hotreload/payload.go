package hotreload

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vormadev/kiln/manifest"
)

type Payload struct {
	Body       string        `json:"body"`
	Assets     PayloadAssets `json:"assets"`
	PublicPath string        `json:"publicPath"`
}

type PayloadAssets struct {
	CSS []string `json:"css"`
	JS  []string `json:"js"`
}

type RenderFunc func(ctx context.Context, params map[string]string) (string, error)

type PayloadInput struct {
	Route      *manifest.RouteEntry
	Params     map[string]string
	Render     RenderFunc
	PublicPath string
}

// BuildHotReplacePayload renders the route and serializes the body content
// with the route's assets. Missing assets become empty arrays.
func BuildHotReplacePayload(ctx context.Context, in PayloadInput) ([]byte, error) {
	if in.Render == nil {
		return nil, errors.New("hotreload: no render function")
	}
	html, err := in.Render(ctx, in.Params)
	if err != nil {
		return nil, err
	}
	p := Payload{
		Body:       ExtractBody(html),
		Assets:     PayloadAssets{CSS: []string{}, JS: []string{}},
		PublicPath: NormalizePublicPath(in.PublicPath),
	}
	if in.Route != nil && in.Route.Assets != nil {
		if in.Route.Assets.CSS != nil {
			p.Assets.CSS = in.Route.Assets.CSS
		}
		if in.Route.Assets.JS != nil {
			p.Assets.JS = in.Route.Assets.JS
		}
	}
	return json.Marshal(p)
}

// NormalizePublicPath keeps "" as is and gives any other value a trailing
// slash.
func NormalizePublicPath(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// ExtractBody returns the exact content between the first <body ...> open
// tag and the last </body>, matched case-insensitively. It returns "" when
// either tag is missing.
func ExtractBody(html string) string {
	lower := asciiLower(html)
	start := -1
	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], "<body")
		if i < 0 {
			return ""
		}
		at := from + i
		next := at + len("<body")
		if next < len(lower) && isTagBoundary(lower[next]) {
			start = at
			break
		}
		from = next
	}
	if start < 0 {
		return ""
	}
	openEnd := strings.IndexByte(html[start:], '>')
	if openEnd < 0 {
		return ""
	}
	contentStart := start + openEnd + 1
	end := strings.LastIndex(lower, "</body>")
	if end < contentStart {
		return ""
	}
	return html[contentStart:end]
}

func isTagBoundary(c byte) bool {
	switch c {
	case '>', '/', ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
