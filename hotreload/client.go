package hotreload

import (
	_ "embed"
	"net/url"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"
)

// Fixed endpoint paths.
const (
	SubscribePath   = "/hot-replace"
	WebSocketPath   = "/hot-replace/ws"
	ClientScriptURL = "/__kiln/hot-replace.js"
)

//go:embed client.js
var rawClientScript []byte

var (
	clientScriptOnce sync.Once
	clientScript     []byte
)

// ClientScript returns the minified bootstrap script. Minification failures
// fall back to the original source.
func ClientScript() []byte {
	clientScriptOnce.Do(func() {
		m := minify.New()
		m.AddFunc("application/javascript", js.Minify)
		out, err := m.Bytes("application/javascript", rawClientScript)
		if err != nil {
			Log.Warn("minify client script", "error", err)
			clientScript = rawClientScript
			return
		}
		clientScript = out
	})
	return clientScript
}

// PathFromHref reduces an href query value to a request path. Absolute URLs
// keep only their path; an empty value means "/".
func PathFromHref(href string) string {
	if href == "" {
		return "/"
	}
	u, err := url.Parse(href)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
