// Package commitsize estimates how much of a commit touches analyzable C code.
package commitsize

import (
	"path/filepath"

	"github.com/ethpandaops/commitbenchoor/pkg/vcs"
)

// relevantExtensions are the source file types the analyzer consumes.
var relevantExtensions = map[string]struct{}{
	".c": {},
	".h": {},
}

// RelevantChangedLOC sums added and deleted lines over the C sources and
// headers in files that live outside every excluded directory.
func RelevantChangedLOC(repoRoot string, files []vcs.ModifiedFile, exclude []string) int {
	excluded := resolveExcludes(repoRoot, exclude)

	total := 0

	for _, f := range files {
		if isRelevant(repoRoot, f, excluded) {
			total += f.Added + f.Deleted
		}
	}

	return total
}

// IsRelevant reports whether a single modified file counts towards
// RelevantChangedLOC.
func IsRelevant(repoRoot string, file vcs.ModifiedFile, exclude []string) bool {
	return isRelevant(repoRoot, file, resolveExcludes(repoRoot, exclude))
}

func isRelevant(repoRoot string, file vcs.ModifiedFile, excluded map[string]struct{}) bool {
	path := file.Path()
	if path == "" {
		return false
	}

	if _, ok := relevantExtensions[filepath.Ext(path)]; !ok {
		return false
	}

	full := filepath.Join(repoRoot, path)

	for dir := filepath.Dir(full); ; dir = filepath.Dir(dir) {
		if _, ok := excluded[dir]; ok {
			return false
		}

		if parent := filepath.Dir(dir); parent == dir {
			return true
		}
	}
}

func resolveExcludes(repoRoot string, exclude []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		out[filepath.Join(repoRoot, e)] = struct{}{}
	}

	return out
}
