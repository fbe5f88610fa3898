package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the qnet configuration file ($XDG_CONFIG_HOME/qnet/config.yaml).
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Model
	Weights         *string  `yaml:"weights"`
	FloatWeights    *string  `yaml:"float_weights"`
	Scales          *string  `yaml:"scales"`
	Mode            *string  `yaml:"mode"`
	ArgmaxThreshold *float64 `yaml:"argmax_threshold"`

	// Calibration
	Workers *int64 `yaml:"workers"`

	// Output
	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	// Server
	ServerAddress *string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "qnet", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config unless the path was given explicitly.
func LoadConfig(path string, explicit bool) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

func setString(c *cli.Command, flag string, src *string, dst *string) {
	if src != nil && !c.IsSet(flag) {
		*dst = *src
	}
}

// applyLoggingConfig applies config file defaults to the root logging flags.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	setString(c, "log-level", cfg.LogLevel, &logLevel)
	setString(c, "log-format", cfg.LogFormat, &logFormat)
}

// applyModelConfig applies config file defaults to the model flags when the
// corresponding CLI flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg Config) {
	setString(c, "weights", cfg.Weights, &weightsPath)
	setString(c, "scales", cfg.Scales, &scalesPath)
	setString(c, "mode", cfg.Mode, &modeName)
	if cfg.ArgmaxThreshold != nil && !c.IsSet("argmax-threshold") {
		argmaxThreshold = *cfg.ArgmaxThreshold
	}
}

func applyFloatConfig(c *cli.Command, cfg Config) {
	setString(c, "float-weights", cfg.FloatWeights, &floatWeightsPath)
}

func applyCalibrateConfig(c *cli.Command, cfg Config, workers *int64) {
	if cfg.Workers != nil && !c.IsSet("workers") {
		*workers = *cfg.Workers
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	setString(c, "addr", cfg.ServerAddress, addr)
}
