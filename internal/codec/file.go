package codec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vincentbai/posetrace-agent/internal/models"
)

// WriteFile encodes s and replaces path atomically, so a reader never sees
// a half-written recording. It returns the number of bytes written.
func WriteFile(path string, s models.Snapshot) (int, error) {
	data, err := Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("failed to encode recording: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write recording: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to sync recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close recording: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to replace recording: %w", err)
	}
	return len(data), nil
}

// ReadFile reads and decodes the recording at path.
func ReadFile(path string) (models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to read recording: %w", err)
	}
	return Unmarshal(data)
}
