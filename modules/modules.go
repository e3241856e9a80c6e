// Package modules loads per-route rendering modules and caches them by
// compiled path.
package modules

import (
	"context"
	"fmt"
	"html/template"
	"maps"
	"strings"
	"sync"
)

// Module renders one route to an HTML document or fragment.
type Module interface {
	Render(ctx context.Context, params map[string]string) (string, error)
}

// Importer turns a compiled module file into a Module.
type Importer interface {
	Import(ctx context.Context, path string) (Module, error)
}

type ImporterFunc func(ctx context.Context, path string) (Module, error)

func (f ImporterFunc) Import(ctx context.Context, path string) (Module, error) { return f(ctx, path) }

type RenderFunc func(ctx context.Context, params map[string]string) (string, error)

func (f RenderFunc) Render(ctx context.Context, params map[string]string) (string, error) {
	return f(ctx, params)
}

// ErrorMarker is the recognizable output of a module that failed to load.
const ErrorMarker = "<!-- kiln:module-load-error -->"

type ModuleLoadError struct {
	Path string
	Err  error
}

func (e *ModuleLoadError) Error() string {
	return fmt.Sprintf("load module %s: %v", e.Path, e.Err)
}

func (e *ModuleLoadError) Unwrap() error { return e.Err }

type stubModule struct {
	err *ModuleLoadError
}

func (s stubModule) Render(context.Context, map[string]string) (string, error) {
	var sb strings.Builder
	sb.WriteString(ErrorMarker)
	sb.WriteString("<pre data-kiln-error>")
	sb.WriteString(template.HTMLEscapeString(s.err.Error()))
	sb.WriteString("</pre>")
	return sb.String(), nil
}

// Stub returns the stand-in module for a failed import.
func Stub(err *ModuleLoadError) Module { return stubModule{err: err} }

// IsStub reports whether m stands in for a failed import.
func IsStub(m Module) bool {
	_, ok := m.(stubModule)
	return ok
}

// StubError returns the load error behind a stub module.
func StubError(m Module) error {
	if s, ok := m.(stubModule); ok {
		return s.err
	}
	return nil
}

type requestPathKey struct{}

// WithRequestPath attaches the URL path being rendered.
func WithRequestPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, requestPathKey{}, path)
}

func RequestPath(ctx context.Context) string {
	p, _ := ctx.Value(requestPathKey{}).(string)
	return p
}

// Cache maps compiled module paths to loaded modules.
type Cache struct {
	mu sync.RWMutex
	m  map[string]Module
}

func NewCache() *Cache {
	return &Cache{m: make(map[string]Module)}
}

func (c *Cache) Get(path string) (Module, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.m[path]
	return m, ok
}

func (c *Cache) Set(path string, m Module) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[path] = m
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Clone returns an independent copy.
func (c *Cache) Clone() *Cache {
	out := NewCache()
	if c == nil {
		return out
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	maps.Copy(out.m, c.m)
	return out
}
