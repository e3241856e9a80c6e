package static

import (
	"encoding/hex"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"
)

type etagEntry struct {
	size    int64
	modTime time.Time
	tag     string
}

// etagFor returns a strong tag derived from the file bytes, cached until the
// file's size or mtime changes.
func (s *Server) etagFor(path string, info os.FileInfo, suffix string) (string, error) {
	s.mu.Lock()
	e, ok := s.etags[path]
	s.mu.Unlock()
	if ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.tag, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, _ := blake2b.New256(nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := h.Sum(nil)
	tag := `"` + hex.EncodeToString(sum[:16]) + suffix + `"`

	s.mu.Lock()
	s.etags[path] = etagEntry{size: info.Size(), modTime: info.ModTime(), tag: tag}
	s.mu.Unlock()
	return tag, nil
}
