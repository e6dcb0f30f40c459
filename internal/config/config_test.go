package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSETRACE_OUTPUT", "run.ptrk")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8000", cfg.Address)
	assert.Equal(t, "run.ptrk", cfg.OutputPath)
	assert.True(t, cfg.FlushEveryCapture)
	assert.True(t, cfg.ZUp)
	assert.False(t, cfg.Overwrite)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POSETRACE_ADDRESS", "0.0.0.0:9000")
	t.Setenv("POSETRACE_FLUSH_EVERY_CAPTURE", "false")
	t.Setenv("POSETRACE_JOURNAL", "/tmp/journal.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Address)
	assert.False(t, cfg.FlushEveryCapture)
	assert.Equal(t, "/tmp/journal.db", cfg.JournalPath)
}

func TestLoadBadBool(t *testing.T) {
	t.Setenv("POSETRACE_Z_UP", "sideways")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.ptrk")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	tests := []struct {
		name      string
		cfg       Config
		wantError bool
	}{
		{"valid", Config{Address: "a", OutputPath: filepath.Join(dir, "new.ptrk")}, false},
		{"missing output", Config{Address: "a"}, true},
		{"wrong suffix", Config{Address: "a", OutputPath: "run.pkl"}, true},
		{"wrong scene suffix", Config{Address: "a", OutputPath: filepath.Join(dir, "new.ptrk"), SceneExportPath: "scene.blend"}, true},
		{"existing output", Config{Address: "a", OutputPath: existing}, true},
		{"existing output with overwrite", Config{Address: "a", OutputPath: existing, Overwrite: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	m, err := LoadManifest(write("ok.yaml", "scene: bins.blend\nobjects:\n  - arm\n  - gripper\n"))
	require.NoError(t, err)
	assert.Equal(t, "bins.blend", m.Scene)
	assert.Equal(t, []string{"arm", "gripper"}, m.Objects)

	_, err = LoadManifest(write("dup.yaml", "objects: [arm, arm]\n"))
	assert.Error(t, err)
	_, err = LoadManifest(write("empty.yaml", "objects: ['']\n"))
	assert.Error(t, err)
	_, err = LoadManifest(write("bad.yaml", "objects: [arm\n"))
	assert.Error(t, err)
	_, err = LoadManifest(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
