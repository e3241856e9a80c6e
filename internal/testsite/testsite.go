// Package testsite builds a small page tree and a rebuilt server over it for
// adapter tests.
package testsite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vormadev/kiln/builder"
	"github.com/vormadev/kiln/devserver"
	"github.com/vormadev/kiln/kit/colorlog"
	"github.com/vormadev/kiln/manifest"
	"github.com/vormadev/kiln/metrics"
)

// Binary is served from the public tree to check byte-exact streaming.
var Binary = []byte{0x89, 'P', 'N', 'G', 0x00, 0x0d, 0x0a, 0x1a, 0xff, 0xfe, 0x00, 0x01}

var files = map[string]string{
	"template.html":          `<!doctype html><html><head><title>site</title></head><body>{{.Body}}</body></html>`,
	"pages/index.html":       `<html><head><title>Home</title></head><body><h1>Home</h1></body></html>`,
	"pages/about/index.tmpl": `<p>About</p>`,
	"dist/public/app.css":    `body{color:red}`,
}

type Site struct {
	Dir    string
	Server *devserver.Server
	Dev    *devserver.Dev
}

// New writes the tree, builds it once and returns the server. Production
// sites get metrics but no hot reload.
func New(t testing.TB, dev bool) *Site {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		write(t, filepath.Join(dir, filepath.FromSlash(name)), []byte(content))
	}
	write(t, filepath.Join(dir, "dist", "public", "logo.png"), Binary)

	out := filepath.Join(dir, "dist")
	srv, err := devserver.New(devserver.Options{
		Dev:        dev,
		PublicDir:  filepath.Join(out, "public"),
		PublicPath: "/public/",
		ServerDir:  filepath.Join(out, "server"),
		Template:   filepath.Join(dir, "template.html"),
		Metrics:    metrics.New(nil),
		Logger:     colorlog.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)

	d, err := devserver.NewDev(devserver.DevOptions{
		Server:       srv,
		Spawner:      &builder.CopySpawner{PagesDir: filepath.Join(dir, "pages"), ServerDir: filepath.Join(out, "server")},
		Manifest:     manifest.Options{PagesDir: filepath.Join(dir, "pages"), Template: filepath.Join(dir, "template.html")},
		ManifestPath: filepath.Join(out, "routes.json"),
		Logger:       colorlog.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Rebuild(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	return &Site{Dir: dir, Server: srv, Dev: d}
}

func write(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
