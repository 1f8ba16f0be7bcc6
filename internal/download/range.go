package download

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// ByteRange is an inclusive span of bytes.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses a single-range Range header against a file of size
// bytes. Only the first range of a multi-range request is honored. An empty
// header returns nil, nil.
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	rng, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	rng, _, _ = strings.Cut(rng, ",")
	first, last, ok := strings.Cut(strings.TrimSpace(rng), "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	var r ByteRange
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return nil, ErrInvalidRange
		}
		if size == 0 {
			return nil, ErrUnsatisfiable
		}
		r = ByteRange{Start: max(size-n, 0), End: size - 1}
		return &r, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, ErrInvalidRange
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil {
			return nil, ErrInvalidRange
		}
	}
	if start > end || start >= size {
		return nil, ErrUnsatisfiable
	}
	r = ByteRange{Start: start, End: min(end, size-1)}
	return &r, nil
}
