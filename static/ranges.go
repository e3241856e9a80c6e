package static

import (
	"errors"
	"strconv"
	"strings"
)

var (
	errMultiRange   = errors.New("multiple ranges")
	errInvalidRange = errors.New("invalid range")
)

type byteRange struct {
	start, length int64
}

func (r byteRange) contentRange(size int64) string {
	return "bytes " + strconv.FormatInt(r.start, 10) + "-" +
		strconv.FormatInt(r.start+r.length-1, 10) + "/" + strconv.FormatInt(size, 10)
}

// parseRange accepts a single "bytes=a-b", "bytes=a-" or "bytes=-n" range.
// Multiple ranges yield errMultiRange so the caller can serve the full body.
func parseRange(header string, size int64) (byteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return byteRange{}, errInvalidRange
	}
	if strings.Contains(spec, ",") {
		return byteRange{}, errMultiRange
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return byteRange{}, errInvalidRange
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return byteRange{}, errInvalidRange
		}
		n = min(n, size)
		return byteRange{start: size - n, length: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, errInvalidRange
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return byteRange{}, errInvalidRange
		}
		end = min(end, size-1)
	}
	return byteRange{start: start, length: end - start + 1}, nil
}
