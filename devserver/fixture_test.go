package devserver

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vormadev/kiln/builder"
	"github.com/vormadev/kiln/kit/colorlog"
	"github.com/vormadev/kiln/manifest"
	"github.com/vormadev/kiln/web"
)

const documentTemplate = `<!doctype html><html><head><title>kiln</title></head><body>{{.Body}}</body></html>`

var basePages = map[string]string{
	"pages/index.html":              `<html><head><title>Home</title></head><body><h1>Home</h1></body></html>`,
	"pages/about/index.tmpl":        `<p>About {{.Path}}</p>`,
	"pages/users/[id]/index.tmpl":   `<html><head></head><body><p>user {{.Params.id}}</p></body></html>`,
	"pages/broken/index.tmpl":       `<p>{{.Params</p>`,
	"pages/fails/index.tmpl":        `<p>{{template "missing"}}</p>`,
	"pages/client/ignored/index.js": `not a route`,
}

type fixture struct {
	dir    string
	pages  string
	out    string
	server *Server
	dev    *Dev
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

type fixtureOptions struct {
	prod    bool
	extra   map[string]string
	spawner builder.Spawner
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir, pages: filepath.Join(dir, "pages"), out: filepath.Join(dir, "dist")}
	writeFiles(t, dir, basePages)
	writeFiles(t, dir, fo.extra)
	writeFiles(t, dir, map[string]string{"template.html": documentTemplate})

	srv, err := New(Options{
		Dev:        !fo.prod,
		PublicDir:  filepath.Join(f.out, "public"),
		PublicPath: "/public/",
		ServerDir:  filepath.Join(f.out, "server"),
		Template:   filepath.Join(dir, "template.html"),
		Logger:     colorlog.Discard(),
		Minify:     fo.prod,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.server = srv
	t.Cleanup(srv.Close)

	sp := fo.spawner
	if sp == nil {
		sp = f.copySpawner()
	}
	f.dev, err = NewDev(DevOptions{
		Server:         srv,
		Spawner:        sp,
		Manifest:       manifest.Options{PagesDir: f.pages, Template: filepath.Join(dir, "template.html")},
		ManifestPath:   filepath.Join(f.out, "routes.json"),
		MiddlewarePath: filepath.Join(dir, "middleware.json"),
		WatchRoots:     []string{f.pages},
		Logger:         colorlog.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) copySpawner() builder.Spawner {
	return &builder.CopySpawner{PagesDir: f.pages, ServerDir: filepath.Join(f.out, "server")}
}

func (f *fixture) rebuild(t *testing.T) RebuildResult {
	t.Helper()
	res, err := f.dev.Rebuild(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func (f *fixture) do(t *testing.T, method, target string, headers map[string]string) *web.Response {
	t.Helper()
	return f.doCtx(t, context.Background(), method, target, headers)
}

func (f *fixture) doCtx(t *testing.T, ctx context.Context, method, target string, headers map[string]string) *web.Response {
	t.Helper()
	req, err := web.NewRequest(ctx, method, "http://localhost:8080"+target, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return f.server.Handle(req)
}

func readBody(t *testing.T, res *web.Response) string {
	t.Helper()
	b, err := res.ReadBody()
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// nextData returns the data line of the next SSE frame on r.
func nextData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				ch <- result{line: strings.TrimSuffix(data, "\n")}
				return
			}
		}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatal(res.err)
		}
		return res.line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
