// Package vcs gives the benchmark driver read access to commit history and
// write access to the working tree checkout of the analyzed repository.
package vcs

import (
	"context"
	"time"
)

// ShortHashLength is the number of hash characters used in row labels and
// directory names.
const ShortHashLength = 7

// Commit is the subset of commit metadata the benchmark records.
type Commit struct {
	Hash    string
	Parents []string
	Author  string
	When    time.Time
	Subject string
}

// ShortHash returns the abbreviated commit hash.
func (c Commit) ShortHash() string {
	if len(c.Hash) <= ShortHashLength {
		return c.Hash
	}

	return c.Hash[:ShortHashLength]
}

// IsMerge reports whether the commit has more than one parent.
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// IsRoot reports whether the commit has no parent.
func (c Commit) IsRoot() bool {
	return len(c.Parents) == 0
}

// ModifiedFile is one file touched by a commit with its line statistics.
// OldPath is empty for added files and NewPath is empty for deleted files.
type ModifiedFile struct {
	OldPath string
	NewPath string
	Added   int
	Deleted int
}

// Path returns the new path, falling back to the old path for deletions.
func (f ModifiedFile) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}

	return f.OldPath
}

// Range selects a first-parent slice of history. From is exclusive, To
// defaults to HEAD, and Max caps the result to the oldest Max commits.
type Range struct {
	From string
	To   string
	Max  int
}

// Repository is a working copy the benchmark can inspect and check out.
type Repository interface {
	// Path returns the working tree root.
	Path() string

	// Checkout force-checks out hash as a detached HEAD.
	Checkout(ctx context.Context, hash string) error

	// ModifiedFiles returns the files changed by hash relative to its only
	// parent. Merge commits report no files.
	ModifiedFiles(ctx context.Context, hash string) ([]ModifiedFile, error)

	// Commit resolves a revision to its commit metadata.
	Commit(ctx context.Context, rev string) (*Commit, error)

	// Commits lists the commits selected by r, oldest first.
	Commits(ctx context.Context, r Range) ([]Commit, error)
}
