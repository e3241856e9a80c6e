package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// AssetIndex maps source entry points to the public URLs of their bundles.
// It is written by EsbuildSpawner and read when attaching assets to the
// route manifest.
type AssetIndex struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewAssetIndex() *AssetIndex {
	return &AssetIndex{m: make(map[string]string)}
}

// Resolve returns the public URL for source.
func (a *AssetIndex) Resolve(source string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	url, ok := a.m[normPath(source)]
	return url, ok
}

func (a *AssetIndex) replace(m map[string]string) {
	a.mu.Lock()
	a.m = m
	a.mu.Unlock()
}

func (a *AssetIndex) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.m)
}

// EsbuildSpawner bundles client entries and stylesheets in process. The
// esbuild context is kept between builds and recreated only when the entry
// set changes.
type EsbuildSpawner struct {
	// Entries lists the entry points for the next build.
	Entries func(ctx context.Context) ([]string, error)
	// Outbase is the pages root; output paths mirror the tree beneath it.
	Outbase string
	// Outdir is the public output directory.
	Outdir string
	// PublicPath prefixes every resolved URL. Default: "/".
	PublicPath string
	Hash       bool
	Minify     bool
	Assets     *AssetIndex

	mu      sync.Mutex
	bctx    esbuild.BuildContext
	entries []string
}

type metafileSubset struct {
	Outputs map[string]struct {
		EntryPoint string `json:"entryPoint"`
	} `json:"outputs"`
}

func (s *EsbuildSpawner) Spawn(ctx context.Context, _ string, stderr io.Writer) error {
	if s.Entries == nil {
		return nil
	}
	entries, err := s.Entries(ctx)
	if err != nil {
		return fmt.Errorf("collect entries: %w", err)
	}
	slices.Sort(entries)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(entries) == 0 {
		s.disposeLocked()
		if s.Assets != nil {
			s.Assets.replace(map[string]string{})
		}
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	if s.bctx == nil || !slices.Equal(entries, s.entries) {
		s.disposeLocked()
		names := "[dir]/[name]"
		if s.Hash {
			names = "[dir]/[name]-[hash]"
		}
		bctx, cerr := esbuild.Context(esbuild.BuildOptions{
			EntryPoints:       entries,
			AbsWorkingDir:     cwd,
			Outbase:           s.Outbase,
			Outdir:            s.Outdir,
			EntryNames:        names,
			AssetNames:        "assets/[name]-[hash]",
			Bundle:            true,
			Write:             true,
			Metafile:          true,
			Format:            esbuild.FormatESModule,
			Platform:          esbuild.PlatformBrowser,
			Target:            esbuild.ES2020,
			Sourcemap:         sourcemap(s.Minify),
			MinifyWhitespace:  s.Minify,
			MinifyIdentifiers: s.Minify,
			MinifySyntax:      s.Minify,
			LogLevel:          esbuild.LogLevelSilent,
		})
		if cerr != nil {
			writeMessages(stderr, cerr.Errors)
			return errors.New("esbuild: invalid build options")
		}
		s.bctx = bctx
		s.entries = entries
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	result := s.bctx.Rebuild()
	if len(result.Errors) > 0 {
		writeMessages(stderr, result.Errors)
		return fmt.Errorf("esbuild: %d error(s)", len(result.Errors))
	}
	if s.Assets == nil {
		return nil
	}

	var meta metafileSubset
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return fmt.Errorf("parse metafile: %w", err)
	}
	outdir := filepath.Join(cwd, s.Outdir)
	if filepath.IsAbs(s.Outdir) {
		outdir = s.Outdir
	}
	index := make(map[string]string, len(meta.Outputs))
	for out, info := range meta.Outputs {
		if info.EntryPoint == "" || strings.HasSuffix(out, ".map") {
			continue
		}
		rel, err := filepath.Rel(outdir, filepath.Join(cwd, filepath.FromSlash(out)))
		if err != nil {
			continue
		}
		index[normPath(filepath.Join(cwd, filepath.FromSlash(info.EntryPoint)))] = publicURL(s.PublicPath, filepath.ToSlash(rel))
	}
	s.Assets.replace(index)
	return nil
}

// Close releases the esbuild context.
func (s *EsbuildSpawner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposeLocked()
}

func (s *EsbuildSpawner) disposeLocked() {
	if s.bctx != nil {
		s.bctx.Dispose()
		s.bctx = nil
		s.entries = nil
	}
}

func sourcemap(minify bool) esbuild.SourceMap {
	if minify {
		return esbuild.SourceMapNone
	}
	return esbuild.SourceMapLinked
}

func publicURL(prefix, rel string) string {
	if prefix == "" {
		prefix = "/"
	}
	if !strings.HasPrefix(prefix, "/") && !strings.Contains(prefix, "://") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(rel, "/")
}

func writeMessages(w io.Writer, msgs []esbuild.Message) {
	for _, line := range esbuild.FormatMessages(msgs, esbuild.FormatMessagesOptions{
		Kind: esbuild.ErrorMessage,
	}) {
		io.WriteString(w, line)
	}
}
