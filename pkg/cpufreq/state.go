package cpufreq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/commitbenchoor/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

const (
	statePrefix = "commitbenchoor-cpufreq-"
	stateSuffix = ".json"
)

// StateFile is a snapshot left behind by a process that never restored it.
type StateFile struct {
	Path     string
	Modified time.Time
}

// SaveState writes snap to a new state file in dir.
func SaveState(dir string, snap *Snapshot) (string, error) {
	if err := fsutil.MkdirAll(dir, 0o755, nil); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s%d%s", statePrefix, time.Now().UnixNano(), stateSuffix))

	if err := fsutil.WriteFile(path, data, 0o644, nil); err != nil {
		return "", fmt.Errorf("writing state: %w", err)
	}

	return path, nil
}

// LoadState reads a state file.
func LoadState(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", path, err)
	}

	return &snap, nil
}

// RemoveState deletes a state file.
func RemoveState(path string) error {
	if _, err := fsutil.RemoveIfExists(path); err != nil {
		return fmt.Errorf("removing state: %w", err)
	}

	return nil
}

// ListStateFiles returns the state files in dir.
func ListStateFiles(dir string) ([]StateFile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading state directory: %w", err)
	}

	var files []StateFile

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, statePrefix) || !strings.HasSuffix(name, stateSuffix) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		files = append(files, StateFile{Path: filepath.Join(dir, name), Modified: info.ModTime()})
	}

	return files, nil
}

// RestoreStateFile writes the settings of a leftover state file back to
// sysfsPath and removes the file.
func RestoreStateFile(log logrus.FieldLogger, sysfsPath, path string) error {
	snap, err := LoadState(path)
	if err != nil {
		return err
	}

	log.WithField("state_file", path).Info("Restoring CPU frequency settings")

	sysfs(sysfsPath).restore(log, snap)

	return RemoveState(path)
}
