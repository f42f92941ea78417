package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactFiles_Locate(t *testing.T) {
	results := t.TempDir()
	reports := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(results, "0_abc1234", "parent"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(results, "0_abc1234", "parent", "analyzer.log"),
		[]byte("TOTAL 1.5 s"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(results, "results.csv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(reports, "cumulative.html"), []byte("<html>"), 0o644))

	files := newArtifactFiles(results, "", reports)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
	}{
		{name: "nested run file", path: "0_abc1234/parent/analyzer.log",
			want: filepath.Join(results, "0_abc1234", "parent", "analyzer.log")},
		{name: "top-level file", path: "results.csv", want: filepath.Join(results, "results.csv")},
		{name: "second root", path: "cumulative.html", want: filepath.Join(reports, "cumulative.html")},
		{name: "directory", path: "0_abc1234", wantErr: errFileNotFound},
		{name: "missing", path: "0_abc1234/parent/nope.log", wantErr: errFileNotFound},
		{name: "empty", path: "", wantErr: errInvalidPath},
		{name: "traversal", path: "runs/../../etc/passwd", wantErr: errInvalidPath},
		{name: "dot dot", path: "..", wantErr: errInvalidPath},
		{name: "absolute", path: "/etc/passwd", wantErr: errInvalidPath},
		{name: "trailing slash", path: "0_abc1234/", wantErr: errInvalidPath},
		{name: "double slash", path: "0_abc1234//parent", wantErr: errInvalidPath},
		{name: "dot segment", path: "0_abc1234/./parent", wantErr: errInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := files.locate(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
