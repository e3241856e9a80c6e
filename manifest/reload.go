package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type ReloadOptions struct {
	// Retries is the total number of attempts. Default: 3.
	Retries int
	// ReadFile defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
	// Backoff is the wait before the second attempt, doubling after each
	// failure. Default: 25ms.
	Backoff time.Duration
}

// Reload reads and parses the manifest at path, retrying read and parse
// failures to tolerate racing with a writer.
func Reload(ctx context.Context, path string, opts ReloadOptions) (Manifest, error) {
	return ReloadJSON[Manifest](ctx, path, opts)
}

// ReloadJSON is Reload for an arbitrary JSON document shape.
func ReloadJSON[T any](ctx context.Context, path string, opts ReloadOptions) (T, error) {
	var zero T
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 25 * time.Millisecond
	}

	var lastErr error
	wait := opts.Backoff
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		b, err := opts.ReadFile(path)
		if err == nil {
			var v T
			if err = json.Unmarshal(b, &v); err == nil {
				return v, nil
			}
			err = fmt.Errorf("parse: %w", err)
		}
		lastErr = err
		if attempt == opts.Retries {
			break
		}
		Log.Debug("manifest not ready, retrying", "path", path, "attempt", attempt, "error", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, &ManifestLoadError{Path: path, Attempts: attempt, Err: ctx.Err()}
		case <-t.C:
		}
		wait *= 2
	}
	return zero, &ManifestLoadError{Path: path, Attempts: opts.Retries, Err: lastErr}
}
