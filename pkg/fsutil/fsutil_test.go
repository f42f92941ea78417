package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    *Owner
		wantErr bool
	}{
		{name: "empty", spec: "", want: nil},
		{name: "valid", spec: "1000:1001", want: &Owner{UID: 1000, GID: 1001}},
		{name: "missing gid", spec: "1000", wantErr: true},
		{name: "too many parts", spec: "1:2:3", wantErr: true},
		{name: "non numeric uid", spec: "root:0", wantErr: true},
		{name: "non numeric gid", spec: "0:wheel", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOwner(tt.spec)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppendFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.out")

	require.NoError(t, AppendFile(path, []byte("first\n"), nil))
	require.NoError(t, AppendFile(path, []byte("second\n"), nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRemoveIfExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "incremental_data")

	removed, err := RemoveIfExists(dir)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, MkdirAll(filepath.Join(dir, "nested"), 0o755, nil))
	require.NoError(t, WriteFile(filepath.Join(dir, "nested", "state"), []byte("x"), 0o644, nil))

	removed, err = RemoveIfExists(dir)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
