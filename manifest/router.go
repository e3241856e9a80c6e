package manifest

import "strings"

// Router matches request paths against a manifest. It is immutable once
// built and safe for concurrent use.
type Router struct {
	routes []compiledRoute
}

type compiledRoute struct {
	entry    *RouteEntry
	segments []string
}

func NewRouter(m Manifest) *Router {
	r := &Router{routes: make([]compiledRoute, 0, len(m))}
	for i := range m {
		e := &m[i]
		r.routes = append(r.routes, compiledRoute{entry: e, segments: splitPath(e.RoutePattern)})
	}
	return r
}

// Match returns the best entry for urlPath with its dynamic parameters.
// A static segment beats a dynamic one at the first position where
// candidates differ.
func (r *Router) Match(urlPath string) (*RouteEntry, map[string]string, bool) {
	segs := splitPath(urlPath)
	var best *compiledRoute
	for i := range r.routes {
		cr := &r.routes[i]
		if len(cr.segments) != len(segs) || !cr.matches(segs) {
			continue
		}
		if best == nil || cr.moreSpecific(best) {
			best = cr
		}
	}
	if best == nil {
		return nil, nil, false
	}
	params := make(map[string]string)
	for i, s := range best.segments {
		if name, ok := strings.CutPrefix(s, ":"); ok {
			params[name] = segs[i]
		}
	}
	return best.entry, params, true
}

// Entries returns the routes in manifest order.
func (r *Router) Entries() []*RouteEntry {
	out := make([]*RouteEntry, len(r.routes))
	for i := range r.routes {
		out[i] = r.routes[i].entry
	}
	return out
}

func (cr *compiledRoute) matches(segs []string) bool {
	for i, s := range cr.segments {
		if strings.HasPrefix(s, ":") {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if s != segs[i] {
			return false
		}
	}
	return true
}

func (cr *compiledRoute) moreSpecific(other *compiledRoute) bool {
	for i := range cr.segments {
		a := strings.HasPrefix(cr.segments[i], ":")
		b := strings.HasPrefix(other.segments[i], ":")
		if a != b {
			return !a
		}
	}
	return false
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	p = strings.TrimSuffix(p, "/index.html")
	if p == "" || p == "index.html" {
		return nil
	}
	return strings.Split(p, "/")
}
