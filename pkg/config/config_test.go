package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objpop3d/pkg/population"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, math.IsInf(cfg.MaxVolume(), 1))
	assert.Equal(t, "discard", cfg.Morphology.BorderMode)
	assert.Equal(t, 0.5, cfg.Coloc.MinOverlapFraction)
	assert.Equal(t, "max", cfg.Filters.IntensityStatistic)
	assert.Equal(t, "median", cfg.Background.Method)
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"objpop3d.yaml", "objpop3d.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Calibration.PixelSizeXY = 0.13
			cfg.Calibration.PixelSizeZ = 0.5
			cfg.Calibration.Unit = "µm"
			cfg.Filters.MinVolume = 2
			cfg.Filters.MaxVolume = 500
			cfg.Morphology.DilateDistance = 1.5
			cfg.Morphology.BorderMode = "clip"
			cfg.Log.Logfile = "/var/log/objpop3d.log"
			cfg.Background.WindowSize = 32
			cfg.Focus.Percent = 60

			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, SaveConfig(cfg, path))
			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			if diff := cmp.Diff(cfg, loaded); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadPartialYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yml")
	data := []byte("filters:\n  minVolume: 3\n  removeSinglePlane: false\ncoloc:\n  minOverlapFraction: 0.25\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.Filters.MinVolume)
	assert.False(t, cfg.Filters.RemoveSinglePlane)
	assert.True(t, cfg.Filters.RemoveTouchingBorder)
	assert.Equal(t, 0.25, cfg.Coloc.MinOverlapFraction)
	assert.Equal(t, DefaultConfig().Calibration, cfg.Calibration)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	data := []byte("[calibration]\npixel_size_xy = 0.2\npixel_size_z = 1.0\n\n[morphology]\nborder_mode = \"clip\"\n\n[logging]\nlogfile = \"/tmp/x.log\"\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Calibration.PixelSizeXY)
	assert.Equal(t, "clip", cfg.Morphology.BorderMode)
	assert.Equal(t, "/tmp/x.log", cfg.Log.Logfile)
	assert.Equal(t, 100, cfg.Log.MaxSize)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filters: [1, 2"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"calibration":      func(c *Config) { c.Calibration.PixelSizeZ = 0 },
		"negative volume":  func(c *Config) { c.Filters.MinVolume = -1 },
		"min above max":    func(c *Config) { c.Filters.MinVolume, c.Filters.MaxVolume = 10, 5 },
		"statistic":        func(c *Config) { c.Filters.IntensityStatistic = "median" },
		"negative radius":  func(c *Config) { c.Morphology.DilateDistance = -0.5 },
		"border mode":      func(c *Config) { c.Morphology.BorderMode = "wrap" },
		"overlap fraction": func(c *Config) { c.Coloc.MinOverlapFraction = -0.1 },
		"window":           func(c *Config) { c.Background.WindowSize = -3 },
		"method":           func(c *Config) { c.Background.Method = "mode" },
		"focus percent":    func(c *Config) { c.Focus.Percent = 101 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, population.IsConfigurationError(err))
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
