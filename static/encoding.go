package static

import (
	"os"
	"strconv"
	"strings"
)

type variant struct {
	path     string
	info     os.FileInfo
	encoding string
	suffix   string
}

var precompressed = []struct{ encoding, ext, suffix string }{
	{"br", ".br", "-br"},
	{"gzip", ".gz", "-gz"},
}

// pickVariant prefers a .br sibling, then .gz, when the type is compressible
// and the client accepts the encoding.
func (s *Server) pickVariant(full string, info os.FileInfo, contentType, acceptEncoding string) variant {
	identity := variant{path: full, info: info}
	if acceptEncoding == "" || !isCompressible(contentType) {
		return identity
	}
	accepted := parseAcceptEncoding(acceptEncoding)
	for _, p := range precompressed {
		if !accepted.allows(p.encoding) {
			continue
		}
		vi, err := os.Stat(full + p.ext)
		if err != nil || !vi.Mode().IsRegular() {
			continue
		}
		return variant{path: full + p.ext, info: vi, encoding: p.encoding, suffix: p.suffix}
	}
	return identity
}

type acceptSet struct {
	q        map[string]float64
	wildcard float64
	hasStar  bool
}

func (a acceptSet) allows(enc string) bool {
	if q, ok := a.q[enc]; ok {
		return q > 0
	}
	if enc == "gzip" {
		if q, ok := a.q["x-gzip"]; ok {
			return q > 0
		}
	}
	return a.hasStar && a.wildcard > 0
}

func parseAcceptEncoding(header string) acceptSet {
	set := acceptSet{q: make(map[string]float64)}
	for part := range strings.SplitSeq(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if ok && strings.EqualFold(strings.TrimSpace(k), "q") {
				if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = f
				}
			}
		}
		if name == "*" {
			set.hasStar, set.wildcard = true, q
			continue
		}
		set.q[name] = q
	}
	return set
}
