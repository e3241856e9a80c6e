package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestReloadBecomesValid(t *testing.T) {
	calls := 0
	read := func(string) ([]byte, error) {
		calls++
		if calls < 3 {
			return []byte(`[{"filename":`), nil
		}
		return []byte(`[{"filename":"index.html","entryPoints":["pages/index.tsx"],"sourceModulePath":"pages/index.tsx","scriptLoading":"module","hash":false}]`), nil
	}
	m, err := Reload(context.Background(), "manifest.json", ReloadOptions{Retries: 3, ReadFile: read, Backoff: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(m) != 1 || m[0].Filename != "index.html" {
		t.Errorf("manifest = %+v", m)
	}
}

func TestReloadNeverValid(t *testing.T) {
	calls := 0
	read := func(string) ([]byte, error) {
		calls++
		return []byte(`not json`), nil
	}
	_, err := Reload(context.Background(), "manifest.json", ReloadOptions{Retries: 4, ReadFile: read, Backoff: time.Millisecond})
	var le *ManifestLoadError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want ManifestLoadError", err)
	}
	if le.Attempts != 4 || calls != 4 {
		t.Errorf("attempts = %d calls = %d, want 4", le.Attempts, calls)
	}
	if !strings.Contains(err.Error(), "4 attempts") {
		t.Errorf("error does not name the attempt count: %v", err)
	}
}

func TestReloadRetriesReadErrors(t *testing.T) {
	calls := 0
	read := func(string) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, os.ErrNotExist
		}
		return []byte(`[]`), nil
	}
	m, err := Reload(context.Background(), "m.json", ReloadOptions{Retries: 2, ReadFile: read, Backoff: time.Millisecond})
	if err != nil || m == nil || len(m) != 0 {
		t.Fatalf("m = %v err = %v", m, err)
	}
}

func TestReloadHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	read := func(string) ([]byte, error) { return []byte(`{`), nil }
	_, err := Reload(ctx, "m.json", ReloadOptions{Retries: 5, ReadFile: read, Backoff: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReloadJSONScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	doc := `[{"path":"","jsx":"src/pages/index.js"},{"path":"about","jsx":"src/pages/about.js"}]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReloadJSON[[]map[string]any](context.Background(), path, ReloadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := []map[string]any{
		{"path": "", "jsx": "src/pages/index.js"},
		{"path": "about", "jsx": "src/pages/about.js"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
