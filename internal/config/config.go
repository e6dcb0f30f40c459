// Package config loads agent settings from the environment and the
// optional YAML object manifest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the recording agent settings.
type Config struct {
	Address           string `env:"POSETRACE_ADDRESS" envDefault:"127.0.0.1:8000"`
	OutputPath        string `env:"POSETRACE_OUTPUT"`
	SceneExportPath   string `env:"POSETRACE_SCENE_EXPORT"`
	JournalPath       string `env:"POSETRACE_JOURNAL"`
	ManifestPath      string `env:"POSETRACE_MANIFEST"`
	FlushEveryCapture bool   `env:"POSETRACE_FLUSH_EVERY_CAPTURE" envDefault:"true"`
	ZUp               bool   `env:"POSETRACE_Z_UP" envDefault:"true"`
	Overwrite         bool   `env:"POSETRACE_OVERWRITE" envDefault:"false"`
}

// Load reads Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that the agent cannot start without.
func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.OutputPath == "" {
		return errors.New("output path is required")
	}
	if ext := filepath.Ext(c.OutputPath); ext != ".ptrk" {
		return fmt.Errorf("expected output path to have '.ptrk' suffix, got '%s'", ext)
	}
	if c.SceneExportPath != "" {
		if ext := filepath.Ext(c.SceneExportPath); ext != ".gltf" {
			return fmt.Errorf("expected scene export path to have '.gltf' suffix, got '%s'", ext)
		}
	}
	if !c.Overwrite {
		if _, err := os.Stat(c.OutputPath); err == nil {
			return fmt.Errorf("output path %s already exists", c.OutputPath)
		}
	}
	return nil
}

// Manifest lists the objects to track and the scene they belong to.
type Manifest struct {
	Scene   string   `yaml:"scene"`
	Objects []string `yaml:"objects"`
}

// LoadManifest reads a YAML manifest such as:
//
//	scene: bins.blend
//	objects:
//	  - iiwa_link_7
//	  - mustard
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	seen := make(map[string]bool, len(m.Objects))
	for _, name := range m.Objects {
		if name == "" {
			return Manifest{}, errors.New("manifest contains an empty object name")
		}
		if seen[name] {
			return Manifest{}, fmt.Errorf("manifest lists %q twice", name)
		}
		seen[name] = true
	}
	return m, nil
}
