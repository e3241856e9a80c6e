package manifest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vormadev/kiln/kit/fsutil"
)

var DefaultPageIndexNames = []string{
	"index.tsx", "index.jsx", "index.ts", "index.js", "index.html", "index.tmpl",
}

var DefaultClientEntryExts = []string{".ts", ".tsx", ".js", ".jsx", ".mjs"}

const (
	ClientEntryModeAll   = "all"
	ClientEntryModeFirst = "first"
)

type Options struct {
	PagesDir string
	// ClientDirName is the per-route subdirectory holding client entries.
	// It never becomes a route. Default: "client".
	ClientDirName string
	// PageIndexNames in precedence order.
	PageIndexNames []string
	// SharedStylesheet is looked up at the pages root. Default: "styles.css".
	SharedStylesheet string
	Template         string
	Hash             bool
	ScriptLoading    string // Default: "module"
	ClientEntryExts  []string
	ClientEntryMode  string // "all" (default) or "first"
	ModuleExt        string // Default: ".tmpl"
}

func (o *Options) setDefaults() {
	if o.ClientDirName == "" {
		o.ClientDirName = "client"
	}
	if len(o.PageIndexNames) == 0 {
		o.PageIndexNames = DefaultPageIndexNames
	}
	if o.SharedStylesheet == "" {
		o.SharedStylesheet = "styles.css"
	}
	if o.ScriptLoading == "" {
		o.ScriptLoading = "module"
	}
	if len(o.ClientEntryExts) == 0 {
		o.ClientEntryExts = DefaultClientEntryExts
	}
	if o.ClientEntryMode == "" {
		o.ClientEntryMode = ClientEntryModeAll
	}
	if o.ModuleExt == "" {
		o.ModuleExt = ".tmpl"
	}
	if !strings.HasPrefix(o.ModuleExt, ".") {
		o.ModuleExt = "." + o.ModuleExt
	}
}

// Build scans opts.PagesDir. When prior is non-empty and still describes the
// tree (every source module exists, no page index or client entry was added
// or removed), prior is returned with its template, stylesheet and hash
// references refreshed and reused is true.
func Build(ctx context.Context, opts Options, prior Manifest) (m Manifest, reused bool, err error) {
	opts.setDefaults()
	fresh, err := scan(ctx, opts)
	if err != nil {
		return nil, false, err
	}
	if len(prior) > 0 && canReuse(prior, fresh) {
		return refresh(prior, opts), true, nil
	}
	return fresh, false, nil
}

// BuildFromDisk is Build with the prior manifest read from manifestPath.
// A missing or unreadable prior simply forces a fresh scan.
func BuildFromDisk(ctx context.Context, opts Options, manifestPath string) (Manifest, bool, error) {
	var prior Manifest
	if manifestPath != "" && fsutil.IsFile(manifestPath) {
		p, err := Reload(ctx, manifestPath, ReloadOptions{Retries: 1})
		if err != nil {
			Log.Warn("ignoring unreadable manifest", "path", manifestPath, "error", err)
		} else {
			prior = p
		}
	}
	return Build(ctx, opts, prior)
}

func canReuse(prior, fresh Manifest) bool {
	known := make(map[string]bool, len(prior))
	knownClient := make(map[string]bool)
	for _, e := range prior {
		if !fsutil.IsFile(filepath.FromSlash(e.SourceModulePath)) {
			return false
		}
		known[e.SourceModulePath] = true
		for _, c := range e.ClientEntries() {
			if !fsutil.IsFile(filepath.FromSlash(c)) {
				return false
			}
			knownClient[c] = true
		}
	}
	var freshClient int
	for _, e := range fresh {
		if !known[e.SourceModulePath] {
			return false
		}
		for _, c := range e.ClientEntries() {
			if !knownClient[c] {
				return false
			}
			freshClient++
		}
	}
	return len(fresh) == len(prior) && freshClient == len(knownClient)
}

func refresh(prior Manifest, opts Options) Manifest {
	sheet, hasSheet := sharedStylesheet(opts)
	out := make(Manifest, len(prior))
	for i, e := range prior {
		e.Template = opts.Template
		e.Hash = opts.Hash
		eps := make([]string, 0, len(e.EntryPoints)+1)
		for _, ep := range e.EntryPoints {
			if isRootStylesheet(ep, opts) {
				continue
			}
			eps = append(eps, ep)
		}
		if hasSheet {
			eps = insertAfterSource(eps, e.SourceModulePath, sheet)
		}
		e.EntryPoints = eps
		out[i] = e
	}
	return out
}

func insertAfterSource(eps []string, source, sheet string) []string {
	if i := slices.Index(eps, source); i >= 0 {
		return slices.Insert(eps, i+1, sheet)
	}
	return append([]string{sheet}, eps...)
}

func isRootStylesheet(ep string, opts Options) bool {
	return strings.EqualFold(path.Ext(ep), ".css") && path.Dir(ep) == slashPath(opts.PagesDir)
}

func sharedStylesheet(opts Options) (string, bool) {
	p := filepath.Join(opts.PagesDir, opts.SharedStylesheet)
	if !fsutil.IsFile(p) {
		return "", false
	}
	return filepath.ToSlash(p), true
}

func slashPath(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// scan walks the pages tree with an explicit stack, visiting directories in
// lexical pre-order so the root route comes first.
func scan(ctx context.Context, opts Options) (Manifest, error) {
	root := opts.PagesDir
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: root, Err: errors.New("not a directory")}
	}
	sheet, hasSheet := sharedStylesheet(opts)

	var m Manifest
	stack := []string{""}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dir := filepath.Join(root, filepath.FromSlash(rel))
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}

		files := make(map[string]bool)
		var subdirs []string
		for _, de := range entries {
			name := de.Name()
			if de.IsDir() {
				if name == opts.ClientDirName || IsIgnoredDir(name) {
					continue
				}
				subdirs = append(subdirs, name)
				continue
			}
			files[name] = true
		}
		slices.Sort(subdirs)
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, path.Join(rel, subdirs[i]))
		}

		index := ""
		for _, name := range opts.PageIndexNames {
			if files[name] {
				index = name
				break
			}
		}
		if index == "" {
			continue
		}

		pattern, err := routePattern(rel)
		if err != nil {
			return nil, err
		}
		source := filepath.ToSlash(filepath.Join(dir, index))
		entry := RouteEntry{
			Filename:         path.Join(rel, "index.html"),
			EntryPoints:      []string{source},
			SourceModulePath: source,
			RoutePattern:     pattern,
			ScriptLoading:    opts.ScriptLoading,
			Hash:             opts.Hash,
			Generated:        isMarkup(index),
			Template:         opts.Template,
			ServerModule:     path.Join(rel, "index"+opts.ModuleExt),
		}
		if hasSheet {
			entry.EntryPoints = append(entry.EntryPoints, sheet)
		}
		clients, err := clientEntries(filepath.Join(dir, opts.ClientDirName), opts)
		if err != nil {
			return nil, err
		}
		entry.EntryPoints = append(entry.EntryPoints, clients...)
		m = append(m, entry)
	}
	return m, nil
}

// AttachAssets records the bundler's public URL for every non-source entry
// point. Entries the resolver does not know are left out.
func AttachAssets(m Manifest, resolve func(source string) (string, bool)) Manifest {
	out := make(Manifest, len(m))
	for i, e := range m {
		a := &Assets{CSS: []string{}, JS: []string{}}
		for _, ep := range e.EntryPoints {
			if ep == e.SourceModulePath {
				continue
			}
			url, ok := resolve(ep)
			if !ok {
				continue
			}
			if strings.EqualFold(path.Ext(ep), ".css") {
				a.CSS = append(a.CSS, url)
			} else {
				a.JS = append(a.JS, url)
			}
		}
		e.Assets = a
		out[i] = e
	}
	return out
}

// clientEntries returns the direct children of dir whose extension is a
// client entry extension, sorted. Mode "first" keeps only the first one.
func clientEntries(dir string, opts Options) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, de := range entries {
		if de.IsDir() || !slices.Contains(opts.ClientEntryExts, strings.ToLower(filepath.Ext(de.Name()))) {
			continue
		}
		out = append(out, filepath.ToSlash(filepath.Join(dir, de.Name())))
	}
	slices.Sort(out)
	if opts.ClientEntryMode == ClientEntryModeFirst && len(out) > 1 {
		out = out[:1]
	}
	return out, nil
}

func isClientEntryExt(p string) bool {
	return slices.Contains(DefaultClientEntryExts, strings.ToLower(path.Ext(p)))
}

func isMarkup(index string) bool {
	ext := path.Ext(index)
	return ext == ".html" || ext == ".tmpl"
}

// IsIgnoredDir reports whether a pages subdirectory is never scanned: dot
// directories, "_" prefixed partials and node_modules.
func IsIgnoredDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "node_modules"
}

// routePattern converts a slash-separated route directory into its pattern,
// turning "[name]" segments into ":name".
func routePattern(rel string) (string, error) {
	if rel == "" {
		return "", nil
	}
	segs := strings.Split(rel, "/")
	seen := make(map[string]bool)
	for i, seg := range segs {
		if !strings.HasPrefix(seg, "[") || !strings.HasSuffix(seg, "]") {
			continue
		}
		name := seg[1 : len(seg)-1]
		switch {
		case name == "":
			return "", &ValidationError{Dir: rel, Segment: seg, Reason: "has an empty name"}
		case !isLetter(name[0]):
			return "", &ValidationError{Dir: rel, Segment: seg, Reason: "must start with a letter"}
		case seen[name]:
			return "", &ValidationError{Dir: rel, Segment: seg, Reason: "repeats an earlier segment name"}
		}
		seen[name] = true
		segs[i] = ":" + name
	}
	return strings.Join(segs, "/"), nil
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
