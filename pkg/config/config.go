// Package config provides the file based configuration of the force sensor controller
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"gopkg.in/yaml.v3"
)

// Config denotes the configuration of the force sensor controller
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Session     SessionConfig     `yaml:"session"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Log         LogConfig         `yaml:"log"`
	API         APIConfig         `yaml:"api"`
	Redis       RedisConfig       `yaml:"redis"`
	Cassandra   CassandraConfig   `yaml:"cassandra"`
}

// DeviceConfig denotes the device discovery / connection settings
type DeviceConfig struct {
	Name           string        `yaml:"name"`
	Address        string        `yaml:"address"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// SessionConfig denotes the reconnect settings of a session
type SessionConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// MeasurementConfig denotes the measurement defaults and output settings
type MeasurementConfig struct {
	BaseDir         string        `yaml:"base_dir"`
	PlotScript      string        `yaml:"plot_script"`
	DefaultInterval time.Duration `yaml:"default_interval"`
	DefaultTara     int           `yaml:"default_tara"`
	Label           string        `yaml:"label"`
	Subject         string        `yaml:"subject"`
}

// LogConfig denotes the logging settings
type LogConfig struct {
	Level string `yaml:"level"`

	// Backend selects the logger handed to the device / session layer (logrus or zap)
	Backend string `yaml:"backend"`
}

// APIConfig denotes the REST API settings (disabled if Listen is empty)
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// RedisConfig denotes the live reading publisher settings (disabled if Addr is empty)
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// CassandraConfig denotes the measurement archive settings (disabled if Hosts is empty)
type CassandraConfig struct {
	Hosts    []string      `yaml:"hosts"`
	Keyspace string        `yaml:"keyspace"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoadConfig loads a configuration file, using defaults for all omitted settings
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Session.MaxAttempts < 1 {
		return fmt.Errorf("session.max_attempts must be positive, got %d", c.Session.MaxAttempts)
	}
	if c.Session.RetryDelay < 0 || c.Session.MaxRetryDelay < c.Session.RetryDelay {
		return fmt.Errorf("invalid retry delays %v / %v", c.Session.RetryDelay, c.Session.MaxRetryDelay)
	}
	if c.Measurement.DefaultInterval <= 0 || c.Measurement.DefaultInterval > 600*time.Second {
		return fmt.Errorf("measurement.default_interval out of range (0, 10m]: %v", c.Measurement.DefaultInterval)
	}
	if c.Measurement.DefaultTara < 1 {
		return fmt.Errorf("measurement.default_tara must be positive, got %d", c.Measurement.DefaultTara)
	}
	if c.Log.Backend != "logrus" && c.Log.Backend != "zap" {
		return fmt.Errorf("log.backend must be logrus or zap, got `%s`", c.Log.Backend)
	}
	if c.Measurement.BaseDir == "" {
		return fmt.Errorf("measurement.base_dir must not be empty")
	}

	return nil
}

// GetDefaultConfig returns the default configuration
func GetDefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:           force.DefaultDeviceName,
			ScanTimeout:    5 * time.Second,
			ConnectTimeout: 20 * time.Second,
		},
		Session: SessionConfig{
			MaxAttempts:   5,
			RetryDelay:    time.Second,
			MaxRetryDelay: 10 * time.Second,
		},
		Measurement: MeasurementConfig{
			BaseDir:         "measurements",
			PlotScript:      "./plot.sh",
			DefaultInterval: 10 * time.Second,
			DefaultTara:     15,
			Label:           "measurement",
			Subject:         "default",
		},
		Log: LogConfig{
			Level:   "info",
			Backend: "logrus",
		},
		Redis: RedisConfig{
			Channel: "btforce_readings",
		},
		Cassandra: CassandraConfig{
			Keyspace: "btforce",
			Timeout:  5 * time.Second,
		},
	}
}
