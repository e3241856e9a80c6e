// Package manifest scans the page source tree into an ordered list of route
// descriptors, persists it as JSON, and matches request paths against it.
package manifest

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/vormadev/kiln/kit/colorlog"
	"github.com/vormadev/kiln/kit/fsutil"
)

var Log = colorlog.New("manifest")

type Assets struct {
	CSS []string `json:"css"`
	JS  []string `json:"js"`
}

type RouteEntry struct {
	// Filename is the route's output document path, unique per manifest
	// ("index.html", "about/index.html").
	Filename    string   `json:"filename"`
	EntryPoints []string `json:"entryPoints"`
	// SourceModulePath is the page index file the route was built from.
	SourceModulePath string `json:"sourceModulePath"`
	// RoutePattern is empty for the root route.
	RoutePattern  string  `json:"routePattern,omitempty"`
	ScriptLoading string  `json:"scriptLoading"`
	Hash          bool    `json:"hash"`
	Generated     bool    `json:"generated,omitempty"`
	Assets        *Assets `json:"assets,omitempty"`
	Template      string  `json:"template,omitempty"`
	// ServerModule is the compiled rendering module, relative to the server
	// output directory.
	ServerModule string `json:"serverModule,omitempty"`
}

// ClientEntries returns the entry points that are client scripts.
func (e RouteEntry) ClientEntries() []string {
	var out []string
	for _, ep := range e.EntryPoints {
		if ep != e.SourceModulePath && isClientEntryExt(ep) {
			out = append(out, ep)
		}
	}
	return out
}

// Path returns the route's URL pattern with a leading slash.
func (e RouteEntry) Path() string {
	return "/" + e.RoutePattern
}

type Manifest []RouteEntry

// Save writes m to path atomically.
func Save(path string, m Manifest) error {
	if m == nil {
		m = Manifest{}
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	if err := fsutil.WriteFileAtomicBytes(path, append(b, '\n')); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}

// ValidationError describes a malformed dynamic segment.
type ValidationError struct {
	Dir     string
	Segment string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid route %q: segment %q %s", e.Dir, e.Segment, e.Reason)
}

// ManifestLoadError is returned once every read attempt has failed.
type ManifestLoadError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *ManifestLoadError) Error() string {
	return fmt.Sprintf("failed to load manifest %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *ManifestLoadError) Unwrap() error { return e.Err }

// BundleEntries returns every non-source entry point in m, deduplicated and
// sorted. These are the inputs of the client bundler.
func BundleEntries(m Manifest) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range m {
		for _, ep := range e.EntryPoints {
			if ep == e.SourceModulePath || seen[ep] {
				continue
			}
			seen[ep] = true
			out = append(out, ep)
		}
	}
	slices.Sort(out)
	return out
}
