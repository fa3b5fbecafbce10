// Package config provides configuration loading and management for objpop3d.
// Configuration files are YAML unless their extension is .toml; missing
// files yield the defaults.
package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/background"
	"objpop3d/pkg/morphology"
	"objpop3d/pkg/population"
)

// Config represents the pipeline configuration.
type Config struct {
	// Calibration is the voxel size used when the input carries none
	Calibration models.Calibration `yaml:"calibration" toml:"calibration"`

	// Processing parameters
	Processing struct {
		// Workers is the number of goroutines used per population operation
		Workers int `yaml:"workers" toml:"workers"`
	} `yaml:"processing" toml:"processing"`

	// Filters are applied in the order size, single plane, border, intensity
	Filters struct {
		// MinVolume and MaxVolume bound object volume in physical units.
		// A zero MaxVolume means no upper bound.
		MinVolume float64 `yaml:"minVolume" toml:"min_volume"`
		MaxVolume float64 `yaml:"maxVolume" toml:"max_volume"`

		// RemoveSinglePlane drops objects lying in one Z plane
		RemoveSinglePlane bool `yaml:"removeSinglePlane" toml:"remove_single_plane"`

		// RemoveTouchingBorder drops objects touching the image border
		RemoveTouchingBorder bool `yaml:"removeTouchingBorder" toml:"remove_touching_border"`

		// IntensityThreshold keeps objects whose IntensityStatistic is at
		// least the threshold.  Only used when an intensity volume is given.
		IntensityThreshold float64 `yaml:"intensityThreshold" toml:"intensity_threshold"`
		IntensityStatistic string  `yaml:"intensityStatistic" toml:"intensity_statistic"`
	} `yaml:"filters" toml:"filters"`

	// Morphology parameters
	Morphology struct {
		// DilateDistance is the dilation radius in physical units; zero skips dilation
		DilateDistance float64 `yaml:"dilateDistance" toml:"dilate_distance"`

		// BorderMode is "discard" or "clip"
		BorderMode string `yaml:"borderMode" toml:"border_mode"`
	} `yaml:"morphology" toml:"morphology"`

	// Coloc parameters
	Coloc struct {
		// MinOverlapFraction is the fraction of the second object that must be covered
		MinOverlapFraction float64 `yaml:"minOverlapFraction" toml:"min_overlap_fraction"`
	} `yaml:"coloc" toml:"coloc"`

	// Background estimation from the minimum Z projection of the intensities
	Background struct {
		// WindowSize, if positive, searches WindowSize x WindowSize tiles for
		// the lowest background instead of using the whole image
		WindowSize int `yaml:"windowSize" toml:"window_size"`

		// Method summarizing a tile: "mean" or "median"
		Method string `yaml:"method" toml:"method"`
	} `yaml:"background" toml:"background"`

	// Focus selects the in-focus planes of the intensity stack
	Focus struct {
		// Percent of the sharpest plane's normalized variance a plane must
		// reach; zero skips the search
		Percent           float64 `yaml:"percent" toml:"percent"`
		VarianceThreshold float64 `yaml:"varianceThreshold" toml:"variance_threshold"`
		Edge              bool    `yaml:"edge" toml:"edge"`
		Consecutive       bool    `yaml:"consecutive" toml:"consecutive"`
	} `yaml:"focus" toml:"focus"`

	// Cache parameters
	Cache struct {
		// MeasureBytes bounds the intensity measurement cache
		MeasureBytes int `yaml:"measureBytes" toml:"measure_bytes"`
	} `yaml:"cache" toml:"cache"`

	// Log routes log output
	Log logging.Config `yaml:"log" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Calibration = models.Calibration{PixelSizeXY: 1, PixelSizeZ: 1, Unit: "pixel"}
	cfg.Processing.Workers = runtime.NumCPU()

	cfg.Filters.MinVolume = 0
	cfg.Filters.MaxVolume = 0
	cfg.Filters.RemoveSinglePlane = true
	cfg.Filters.RemoveTouchingBorder = true
	cfg.Filters.IntensityStatistic = population.IntensityMax.String()

	cfg.Morphology.BorderMode = morphology.Discard.String()
	cfg.Coloc.MinOverlapFraction = 0.5
	cfg.Background.Method = background.MedianMethod.String()
	cfg.Focus.Edge = true
	cfg.Focus.Consecutive = true
	cfg.Cache.MeasureBytes = 16 << 20

	cfg.Log.MaxSize = 100
	cfg.Log.MaxAge = 7
	return cfg
}

// MaxVolume returns the upper volume bound, +Inf when unset.
func (c *Config) MaxVolume() float64 {
	if c.Filters.MaxVolume == 0 {
		return math.Inf(1)
	}
	return c.Filters.MaxVolume
}

// Validate checks the configuration and returns the first problem found as
// a configuration error.
func (c *Config) Validate() error {
	if !c.Calibration.Valid() {
		return population.ConfigErrorf("config", "non-positive calibration %s", c.Calibration)
	}
	f := c.Filters
	if f.MinVolume < 0 || f.MaxVolume < 0 || math.IsNaN(f.MinVolume) || math.IsNaN(f.MaxVolume) {
		return population.ConfigErrorf("config", "negative volume bounds [%g, %g]", f.MinVolume, f.MaxVolume)
	}
	if f.MinVolume > c.MaxVolume() {
		return population.ConfigErrorf("config", "min volume %g exceeds max volume %g", f.MinVolume, f.MaxVolume)
	}
	if _, err := population.ParseStatistic(f.IntensityStatistic); err != nil {
		return population.ConfigErrorf("config", "%v", err)
	}
	if c.Morphology.DilateDistance < 0 || math.IsNaN(c.Morphology.DilateDistance) {
		return population.ConfigErrorf("config", "negative dilation distance %g", c.Morphology.DilateDistance)
	}
	if _, err := morphology.ParseBorderMode(c.Morphology.BorderMode); err != nil {
		return population.ConfigErrorf("config", "%v", err)
	}
	if c.Background.WindowSize < 0 {
		return population.ConfigErrorf("config", "negative background window %d", c.Background.WindowSize)
	}
	if _, err := background.ParseMethod(c.Background.Method); err != nil {
		return population.ConfigErrorf("config", "%v", err)
	}
	if fp := c.Focus; fp.Percent < 0 || fp.Percent > 100 || math.IsNaN(fp.Percent) || fp.VarianceThreshold < 0 {
		return population.ConfigErrorf("config", "invalid focus percent %g or threshold %g", fp.Percent, fp.VarianceThreshold)
	}
	if c.Coloc.MinOverlapFraction < 0 || math.IsNaN(c.Coloc.MinOverlapFraction) || math.IsInf(c.Coloc.MinOverlapFraction, 0) {
		return population.ConfigErrorf("config", "invalid overlap fraction %g", c.Coloc.MinOverlapFraction)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	if isTOML(configPath) {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration, as TOML when the path ends in .toml
// and as YAML otherwise.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
