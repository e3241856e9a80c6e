package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/vormadev/kiln/config"
	"github.com/vormadev/kiln/modules"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "template.html"), `<html><body>{{.Body}}</body></html>`)
	writeFile(t, filepath.Join(dir, "pages", "index.html"), `<p>home</p>`)
	writeFile(t, filepath.Join(dir, "pages", "docs", "index.tmpl"), `<p>docs</p>`)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{
		"build",
		"--env-file", filepath.Join(dir, "missing.env"),
		"--pages", filepath.Join(dir, "pages"),
		"--out", filepath.Join(dir, "dist"),
		"--template", filepath.Join(dir, "template.html"),
		"--log-level", "error",
	})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "built 2 routes") {
		t.Errorf("output = %q", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "dist", "routes.json")); err != nil {
		t.Errorf("manifest not saved: %v", err)
	}
}

func TestBuildCommandReportsCompilerFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "template.html"), `{{.Body}}`)
	writeFile(t, filepath.Join(dir, "pages", "index.html"), `<p>home</p>`)
	script := filepath.Join(dir, "fail.sh")
	writeFile(t, script, "#!/bin/sh\necho broken >&2\nexit 1\n")
	if err := os.Chmod(script, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvBuildCommand, script)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{
		"build",
		"--pages", filepath.Join(dir, "pages"),
		"--out", filepath.Join(dir, "dist"),
		"--template", filepath.Join(dir, "template.html"),
		"--log-level", "error",
	})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err = %v", err)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	writeFile(t, env, "PORT=9000\nKILN_OUT_DIR=from-env\nKILN_LOG_LEVEL=debug\n")

	f := &flags{}
	cmd := &cobra.Command{Use: "probe"}
	f.register(cmd.Flags())
	if err := cmd.ParseFlags([]string{"--env-file", env, "--port", "7000"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := f.load(cmd, config.ModeProduction)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7000 {
		t.Errorf("port = %d, flag should win", cfg.Port)
	}
	if cfg.OutDir != "from-env" || cfg.LogLevel != "debug" {
		t.Errorf("env file values lost: %+v", cfg)
	}
	if cfg.Mode != config.ModeProduction || !cfg.Hash || !cfg.Minify {
		t.Errorf("mode override should bring production defaults: %+v", cfg)
	}
}

func TestImporterUsesRenderCommand(t *testing.T) {
	cfg := config.Default()
	if _, ok := importer(cfg)[".tmpl"].(*modules.TemplateImporter); !ok {
		t.Error("default .tmpl importer should be the template importer")
	}

	cfg.RenderCommand = []string{"node", "render.mjs"}
	cfg.ModuleExt = ".mjs"
	imp := importer(cfg)
	ei, ok := imp[".mjs"].(*modules.ExecImporter)
	if !ok {
		t.Fatalf(".mjs importer = %T", imp[".mjs"])
	}
	if ei.Command != "node" || len(ei.Args) != 1 || ei.Args[0] != "render.mjs" {
		t.Errorf("exec importer = %+v", ei)
	}
	if _, ok := imp[".html"].(*modules.TemplateImporter); !ok {
		t.Error("markup pages should keep the template importer")
	}
}

func TestWatchRoots(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want []string
	}{
		{
			"defaults",
			config.Default(),
			[]string{filepath.Join("src", "pages"), "src"},
		},
		{
			"template inside pages",
			config.Config{PagesDir: "pages", Template: filepath.Join("pages", "t.html")},
			[]string{"pages"},
		},
		{
			"separate dirs",
			config.Config{PagesDir: "pages", Template: filepath.Join("shell", "t.html"), MiddlewarePath: "mw.json"},
			[]string{"pages", "shell", "."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := watchRoots(tt.cfg)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("watchRoots = %v, want %v", got, tt.want)
			}
		})
	}
}
