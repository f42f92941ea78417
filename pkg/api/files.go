package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-chi/chi/v5"
)

var (
	errInvalidPath  = errors.New("invalid path")
	errFileNotFound = errors.New("file not found")
)

// artifactFiles resolves request paths against the results and report
// directories, first match wins.
type artifactFiles struct {
	roots []string
}

func newArtifactFiles(roots ...string) *artifactFiles {
	a := &artifactFiles{roots: make([]string, 0, len(roots))}

	for _, r := range roots {
		if r == "" {
			continue
		}

		if r = filepath.Clean(r); !slices.Contains(a.roots, r) {
			a.roots = append(a.roots, r)
		}
	}

	return a
}

// locate returns the regular file name refers to. name must be a slash
// separated, unrooted path without dot segments.
func (a *artifactFiles) locate(name string) (string, error) {
	if name == "" || name == "." || !fs.ValidPath(name) {
		return "", errInvalidPath
	}

	for _, root := range a.roots {
		full := filepath.Join(root, filepath.FromSlash(name))

		if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
			return full, nil
		}
	}

	return "", errFileNotFound
}

// handleFileRequest serves an artifact such as a run's analyzer.log or the
// rendered charts.
func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	full, err := s.files.locate(chi.URLParam(r, "*"))

	switch {
	case errors.Is(err, errInvalidPath):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case err != nil:
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})
	default:
		http.ServeFile(w, r, full)
	}
}
