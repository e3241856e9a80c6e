package static

import "strings"

// DefaultTypes is the extension allow-list. Anything else falls through to
// route dispatch.
var DefaultTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".mjs":   "text/javascript; charset=utf-8",
	".json":  "application/json",
	".map":   "application/json",
	".svg":   "image/svg+xml",
	".txt":   "text/plain; charset=utf-8",
	".xml":   "application/xml",
	".wasm":  "application/wasm",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".mp3":   "audio/mpeg",
	".pdf":   "application/pdf",
}

var compressible = []string{
	"text/html", "text/css", "text/javascript", "application/json",
	"image/svg+xml", "text/plain", "application/xml", "application/wasm",
}

func isCompressible(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	for _, c := range compressible {
		if base == c {
			return true
		}
	}
	return false
}
