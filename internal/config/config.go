// Package config loads CLI settings from defaults, a YAML file, a .env file
// and the environment, later sources overriding earlier ones.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shepherrrd/schemaflow/internal/drivers"
)

const (
	DefaultConfigFile = "schemaflow.yaml"
	DefaultEnvFile    = ".env"
)

type Config struct {
	DatabaseURL   string   `yaml:"database_url"`
	Driver        string   `yaml:"driver"`
	MigrationsDir string   `yaml:"migrations_dir"`
	Backends      []string `yaml:"backends"`

	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	GormLogLevel string `yaml:"gorm_log_level"`

	OtelEnabled      bool    `yaml:"otel_enabled"`
	OtelEndpoint     string  `yaml:"otel_endpoint"`
	OtelServiceName  string  `yaml:"otel_service_name"`
	OtelSamplingRate float64 `yaml:"otel_sampling_rate"`

	// MetricsTextfile, when set, receives the run's metrics after each command.
	MetricsTextfile string `yaml:"metrics_textfile"`

	// ImplicitDefaults lets NOT NULL columns without a default be added to
	// tables that hold rows, backfilled with the type's zero value.
	ImplicitDefaults bool `yaml:"implicit_defaults"`
}

func Default() *Config {
	return &Config{
		Driver:           "sqlite",
		MigrationsDir:    "migrations",
		Backends:         drivers.Names(),
		LogLevel:         "INFO",
		LogFormat:        "text",
		GormLogLevel:     "silent",
		OtelServiceName:  "schemaflow",
		OtelSamplingRate: 1,
	}
}

type LoadOptions struct {
	// ConfigFile defaults to schemaflow.yaml; a missing default file is
	// ignored, a missing explicit one is an error.
	ConfigFile string
	// EnvFile defaults to .env and is ignored when missing.
	EnvFile string
}

// Load builds the configuration. Variables already set in the environment
// win over the .env file.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	path, explicit := opts.ConfigFile, opts.ConfigFile != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := cfg.loadYAML(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		if err != nil {
			return nil, err
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Driver, "SCHEMAFLOW_DRIVER")
	setString(&c.MigrationsDir, "SCHEMAFLOW_MIGRATIONS_DIR")
	setString(&c.LogLevel, "SCHEMAFLOW_LOG_LEVEL")
	setString(&c.LogFormat, "SCHEMAFLOW_LOG_FORMAT")
	setString(&c.GormLogLevel, "SCHEMAFLOW_GORM_LOG_LEVEL")
	setString(&c.OtelEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.OtelServiceName, "OTEL_SERVICE_NAME")
	setString(&c.MetricsTextfile, "SCHEMAFLOW_METRICS_TEXTFILE")

	if v := os.Getenv("SCHEMAFLOW_BACKENDS"); v != "" {
		c.Backends = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Backends = append(c.Backends, b)
			}
		}
	}
	if err := setBool(&c.OtelEnabled, "OTEL_ENABLED"); err != nil {
		return err
	}
	if err := setBool(&c.ImplicitDefaults, "SCHEMAFLOW_IMPLICIT_DEFAULTS"); err != nil {
		return err
	}
	if v := os.Getenv("OTEL_SAMPLING_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SAMPLING_RATE %q: %w", v, err)
		}
		c.OtelSamplingRate = rate
	}
	return nil
}

// Validate checks that every named backend has a driver.
func (c *Config) Validate() error {
	if _, err := drivers.NewDriver(c.Driver); err != nil {
		return err
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	for _, b := range c.Backends {
		if _, err := drivers.NewDriver(b); err != nil {
			return err
		}
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		return fmt.Errorf("otel sampling rate %v is outside [0, 1]", c.OtelSamplingRate)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}
