// Package pagination turns list query parameters into an offset window and back into opaque
// page tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultSize = 20
	MaxSize     = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Window is a validated page request.
type Window struct {
	Size   int
	Token  string
	Offset int
}

// Parse reads pageSize and pageToken. A missing or non-positive size means DefaultSize and a
// size above MaxSize is clamped. The page/size pair older clients send is honoured when no
// pageToken is given.
func Parse(q url.Values) (Window, error) {
	raw := strings.TrimSpace(q.Get("pageSize"))
	if raw == "" {
		raw = strings.TrimSpace(q.Get("size"))
	}
	w := Window{Size: DefaultSize}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Window{}, fmt.Errorf("%w: %q is not a number", ErrInvalidPageSize, raw)
		}
		w.Size = clamp(n)
	}

	if token := strings.TrimSpace(q.Get("pageToken")); token != "" {
		offset, err := DecodeOffset(token)
		if err != nil {
			return Window{}, err
		}
		w.Token, w.Offset = token, offset
		return w, nil
	}
	if page := strings.TrimSpace(q.Get("page")); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 0 {
			return Window{}, fmt.Errorf("%w: page %q", ErrInvalidPageToken, page)
		}
		w.Offset = n * w.Size
		w.Token = EncodeOffset(w.Offset)
	}
	return w, nil
}

func clamp(size int) int {
	switch {
	case size <= 0:
		return DefaultSize
	case size > MaxSize:
		return MaxSize
	}
	return size
}

// Limit clamps a size coming from a caller that skipped Parse.
func Limit(size int) int { return clamp(size) }
