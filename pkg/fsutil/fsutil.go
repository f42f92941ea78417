// Package fsutil wraps file creation so that every artifact written into the
// results directory can be handed to a configured owner.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Owner is a parsed UID/GID pair applied to created files.
type Owner struct {
	UID int
	GID int
}

// ParseOwner parses a "UID:GID" string. An empty string yields a nil owner.
func ParseOwner(spec string) (*Owner, error) {
	if spec == "" {
		return nil, nil
	}

	uidStr, gidStr, ok := strings.Cut(spec, ":")
	if !ok || strings.Contains(gidStr, ":") {
		return nil, fmt.Errorf("invalid owner %q, expected UID:GID", spec)
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UID %q: %w", uidStr, err)
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid GID %q: %w", gidStr, err)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

// Chown hands path to owner. Best-effort, a nil owner is a no-op.
func Chown(path string, owner *Owner) {
	if owner == nil {
		return
	}

	_ = os.Chown(path, owner.UID, owner.GID)
}

// MkdirAll creates a directory tree and hands the leaf to owner.
func MkdirAll(path string, perm os.FileMode, owner *Owner) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	Chown(path, owner)

	return nil
}

// WriteFile writes data to path and hands it to owner.
func WriteFile(path string, data []byte, perm os.FileMode, owner *Owner) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}

	Chown(path, owner)

	return nil
}

// Create truncates or creates path for writing.
func Create(path string, owner *Owner) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	Chown(path, owner)

	return f, nil
}

// OpenAppend opens path for appending, creating it if needed.
func OpenAppend(path string, owner *Owner) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	Chown(path, owner)

	return f, nil
}

// AppendFile appends data to path, closing the file before returning.
func AppendFile(path string, data []byte, owner *Owner) (err error) {
	f, err := OpenAppend(path, owner)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = f.Write(data)

	return err
}

// RemoveIfExists removes a directory tree. It reports whether anything was removed.
func RemoveIfExists(path string) (bool, error) {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	if err := os.RemoveAll(path); err != nil {
		return false, err
	}

	return true, nil
}
