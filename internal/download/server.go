// Package download serves finished export files over HTTP with byte-range
// support, so large renders can be fetched and resumed.
package download

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xvanov/clipforge-sub000/internal/logging"
)

// containerTypes covers the export containers; the platform mime table is
// not guaranteed to list them.
var containerTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".edl":  "text/plain; charset=utf-8",
}

func ContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := containerTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logging.WithComponent(logging.OrDiscard(logger), "download")}
}

// ETag derives a validator from size and modification time. A re-export to
// the same path changes it.
func ETag(info fs.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().UnixNano())
}

// Serve writes the file at path as an attachment. Missing files answer 404.
// The returned error is non-nil only when nothing has been written yet.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, path string) error {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat export: %w", err)
	}
	if info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := info.Size()
	etag := ETag(info)
	contentType := ContentType(path)

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("ETag", etag)
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	rangeHeader := r.Header.Get("Range")
	// a stale If-Range validator means the client gets the whole file
	if ir := r.Header.Get("If-Range"); ir != "" && ir != etag {
		rangeHeader = ""
	}

	br, err := ParseRange(rangeHeader, size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		br = nil
	case err != nil:
		return err
	}

	if br == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, file, size, path)
		}
		return nil
	}

	if _, err := file.Seek(br.Start, io.SeekStart); err != nil {
		return fmt.Errorf("seek export: %w", err)
	}
	h.Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	h.Set("Content-Range", br.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		s.copy(w, file, br.Length(), path)
	}
	return nil
}

func (s *Server) copy(w io.Writer, file io.Reader, n int64, path string) {
	if _, err := io.CopyN(w, file, n); err != nil {
		s.logger.Debug("download interrupted", "path", logging.SanitizePath(path), "error", err)
	}
}
