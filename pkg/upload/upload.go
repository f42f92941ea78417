// Package upload copies finished benchmark result directories to S3-compatible
// object storage.
package upload

import "context"

// Uploader uploads a local result directory to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads all files in localDir. The directory basename is
	// used as a sub-prefix under prefix + "/runs/".
	Upload(ctx context.Context, localDir string) (*Summary, error)

	// ListRuns returns the names of the result directories already uploaded.
	ListRuns(ctx context.Context) ([]string, error)
}

// Summary describes a finished upload.
type Summary struct {
	Prefix string
	Files  int
	Bytes  int64
}
