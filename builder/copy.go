package builder

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vormadev/kiln/kit/fsutil"
	"github.com/vormadev/kiln/manifest"
)

// CopySpawner publishes markup pages (index.html, index.tmpl) that need no
// compilation into the server output tree as rendering modules, along with
// the _404/_500 custom pages at the pages root.
type CopySpawner struct {
	PagesDir       string
	ServerDir      string
	ClientDirName  string   // Default: "client"
	PageIndexNames []string // Default: manifest.DefaultPageIndexNames
	ModuleExt      string   // Default: ".tmpl"
}

var markupExts = []string{".html", ".tmpl"}

func (c *CopySpawner) Spawn(ctx context.Context, _ string, stderr io.Writer) error {
	clientDir := c.ClientDirName
	if clientDir == "" {
		clientDir = "client"
	}
	indexNames := c.PageIndexNames
	if len(indexNames) == 0 {
		indexNames = manifest.DefaultPageIndexNames
	}
	ext := c.ModuleExt
	if ext == "" {
		ext = ".tmpl"
	}

	for _, page := range []string{"_404", "_500"} {
		for _, me := range markupExts {
			src := filepath.Join(c.PagesDir, page+me)
			if fsutil.IsFile(src) {
				if err := copyFile(src, filepath.Join(c.ServerDir, page+ext)); err != nil {
					io.WriteString(stderr, err.Error()+"\n")
					return err
				}
				break
			}
		}
	}

	return filepath.WalkDir(c.PagesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != c.PagesDir && (d.Name() == clientDir || manifest.IsIgnoredDir(d.Name())) {
			return filepath.SkipDir
		}
		var chosen string
		for _, name := range indexNames {
			if fsutil.IsFile(filepath.Join(path, name)) {
				chosen = name
				break
			}
		}
		if chosen == "" || !slices.Contains(markupExts, strings.ToLower(filepath.Ext(chosen))) {
			return nil
		}
		rel, err := filepath.Rel(c.PagesDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(c.ServerDir, rel, "index"+ext)
		if err := copyFile(filepath.Join(path, chosen), dst); err != nil {
			io.WriteString(stderr, err.Error()+"\n")
			return err
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomicBytes(dst, b)
}
