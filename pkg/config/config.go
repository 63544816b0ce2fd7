// Package config provides configuration loading and management for mriseg.
// It handles loading configuration from YAML files, overlaying values from the
// environment (optionally seeded from a .env file) and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mriseg/internal/models"
)

// Collision policies for the segmentation saver.
const (
	CollisionOverwrite = "overwrite"
	CollisionError     = "error"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "MRISEG_"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Output parameters for the segmentation saver
	Output struct {
		// Path is the root directory predictions are written under
		Path string `yaml:"path"`

		// DType is the element type written to disk; empty keeps the prediction's own type
		DType models.DType `yaml:"dtype"`

		// Postfix is appended to each output file stem after an underscore
		Postfix string `yaml:"postfix"`

		// Ext is the output file suffix
		Ext string `yaml:"ext"`

		// DataRoot is stripped from source directories so the output tree
		// mirrors the input tree. The pipeline falls back to Input.Dir
		DataRoot string `yaml:"dataRoot"`

		// OnCollision is either "overwrite" or "error"
		OnCollision string `yaml:"onCollision"`
	} `yaml:"output"`

	// Input parameters
	Input struct {
		// Dir is scanned recursively for .nii and .nii.gz volumes
		Dir string `yaml:"dir"`

		// Key is the batch data key the loaded volume is stored under
		Key string `yaml:"key"`
	} `yaml:"input"`

	// Normalize configures the intensity normalizer
	Normalize struct {
		Enabled    bool         `yaml:"enabled"`
		Keys       []string     `yaml:"keys"`
		Subtrahend []float64    `yaml:"subtrahend"`
		Divisor    []float64    `yaml:"divisor"`
		DType      models.DType `yaml:"dtype"`
	} `yaml:"normalize"`

	// Predict configures the threshold predictor
	Predict struct {
		Threshold float64 `yaml:"threshold"`
		BatchSize int     `yaml:"batchSize"`
	} `yaml:"predict"`

	// Summary configures animated GIF summaries
	Summary struct {
		Enabled     bool    `yaml:"enabled"`
		LogDir      string  `yaml:"logDir"`
		MaxOut      int     `yaml:"maxOut"`
		ScaleFactor float64 `yaml:"scaleFactor"`
		FrameSize   uint    `yaml:"frameSize"`

		// SlicesDir receives JPEG z-slices of every prediction when set
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"summary"`

	// Logging parameters
	Logging struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// Dir receives info/warning/error log files when set
		Dir string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Output.Path = "./"
	cfg.Output.DType = models.Float32
	cfg.Output.Postfix = "seg"
	cfg.Output.Ext = ".nii.gz"
	cfg.Output.OnCollision = CollisionOverwrite

	cfg.Input.Key = "image"

	cfg.Normalize.Enabled = true
	cfg.Normalize.Keys = []string{"image"}
	cfg.Normalize.DType = models.Float32

	cfg.Predict.Threshold = 0.0
	cfg.Predict.BatchSize = 2

	cfg.Summary.Enabled = false
	cfg.Summary.LogDir = "runs"
	cfg.Summary.MaxOut = 3
	cfg.Summary.ScaleFactor = 255

	cfg.Logging.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
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

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// ApplyEnv overlays MRISEG_* environment variables onto cfg. If envFile is
// non-empty it is loaded first; variables already set in the process
// environment win over the file.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("error loading env file: %w", err)
		}
	}

	cfg.Output.Path = getEnv("OUTPUT_PATH", cfg.Output.Path)
	cfg.Output.DType = models.DType(getEnv("OUTPUT_DTYPE", string(cfg.Output.DType)))
	cfg.Output.Postfix = getEnv("OUTPUT_POSTFIX", cfg.Output.Postfix)
	cfg.Output.Ext = getEnv("OUTPUT_EXT", cfg.Output.Ext)
	cfg.Output.DataRoot = getEnv("DATA_ROOT", cfg.Output.DataRoot)
	cfg.Output.OnCollision = getEnv("ON_COLLISION", cfg.Output.OnCollision)
	cfg.Input.Dir = getEnv("INPUT_DIR", cfg.Input.Dir)
	cfg.Predict.Threshold = getEnvAsFloat("THRESHOLD", cfg.Predict.Threshold)
	cfg.Predict.BatchSize = getEnvAsInt("BATCH_SIZE", cfg.Predict.BatchSize)
	cfg.Summary.LogDir = getEnv("SUMMARY_DIR", cfg.Summary.LogDir)
	cfg.Summary.Enabled = getEnvAsBool("SUMMARY", cfg.Summary.Enabled)
	cfg.Logging.Verbose = getEnvAsBool("VERBOSE", cfg.Logging.Verbose)
	cfg.Logging.Dir = getEnv("LOG_DIR", cfg.Logging.Dir)

	return nil
}

// Validate checks the values the rest of the program relies on.
func (c *Config) Validate() error {
	if !c.Output.DType.Valid() {
		return fmt.Errorf("unknown output dtype %q", c.Output.DType)
	}
	if !c.Normalize.DType.Valid() {
		return fmt.Errorf("unknown normalize dtype %q", c.Normalize.DType)
	}
	switch c.Output.OnCollision {
	case "", CollisionOverwrite, CollisionError:
	default:
		return fmt.Errorf("unknown collision policy %q", c.Output.OnCollision)
	}
	if c.Predict.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Predict.BatchSize)
	}
	if c.Summary.Enabled && c.Summary.MaxOut <= 0 {
		return fmt.Errorf("summary maxOut must be positive, got %d", c.Summary.MaxOut)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
