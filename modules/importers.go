package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultImporter handles .tmpl and .html modules with TemplateImporter.
func DefaultImporter() Importer {
	t := &TemplateImporter{}
	return ExtImporter{".tmpl": t, ".html": t}
}

// TemplateImporter parses a compiled module as an html/template document.
// It executes with {Params, Path}.
type TemplateImporter struct {
	Funcs template.FuncMap
}

type TemplateData struct {
	Params map[string]string
	Path   string
}

func (ti *TemplateImporter) Import(_ context.Context, path string) (Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := template.New(filepath.Base(path))
	if ti.Funcs != nil {
		t = t.Funcs(ti.Funcs)
	}
	t, err = t.Parse(string(src))
	if err != nil {
		return nil, err
	}
	return RenderFunc(func(ctx context.Context, params map[string]string) (string, error) {
		var buf bytes.Buffer
		if err := t.Execute(&buf, TemplateData{Params: params, Path: RequestPath(ctx)}); err != nil {
			return "", err
		}
		return buf.String(), nil
	}), nil
}

// ExecImporter renders through an external runtime, e.g. Command "node" with
// a module compiled to a script. The process receives
// {"params":...,"path":...} on stdin and writes the document to stdout.
type ExecImporter struct {
	Command string
	Args    []string
	Env     []string
	// Timeout bounds one render. Default: 10s.
	Timeout time.Duration
}

type renderInput struct {
	Params map[string]string `json:"params"`
	Path   string            `json:"path"`
}

func (ei *ExecImporter) Import(_ context.Context, path string) (Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if ei.Command == "" {
		return nil, fmt.Errorf("no render command configured")
	}
	timeout := ei.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return RenderFunc(func(ctx context.Context, params map[string]string) (string, error) {
		if params == nil {
			params = map[string]string{}
		}
		input, err := json.Marshal(renderInput{Params: params, Path: RequestPath(ctx)})
		if err != nil {
			return "", err
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		args := append(append([]string(nil), ei.Args...), path)
		cmd := exec.CommandContext(ctx, ei.Command, args...)
		cmd.Env = append(os.Environ(), ei.Env...)
		cmd.Stdin = bytes.NewReader(input)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second
		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("%w: %s", err, msg)
			}
			return "", err
		}
		return stdout.String(), nil
	}), nil
}

// ExtImporter dispatches on the module's file extension.
type ExtImporter map[string]Importer

func (ei ExtImporter) Import(ctx context.Context, path string) (Module, error) {
	ext := strings.ToLower(filepath.Ext(path))
	imp, ok := ei[ext]
	if !ok {
		return nil, fmt.Errorf("no importer for %q modules", ext)
	}
	return imp.Import(ctx, path)
}
