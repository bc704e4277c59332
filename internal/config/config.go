// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
		Path   string `yaml:"path"`
	} `yaml:"database"`

	RabbitMQ struct {
		URL string `yaml:"url"`
	} `yaml:"rabbitmq"`

	Workers int `yaml:"workers"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	RateLimit struct {
		MessagesPerMinute int `yaml:"messages_per_minute"`
		Burst             int `yaml:"burst"`
	} `yaml:"ratelimit"`

	Admin struct {
		Username string `yaml:"username"`
	} `yaml:"admin"`
}

// LoadConfig reads the YAML file at path, applies FAIR_* environment
// overrides (a .env file next to the binary is loaded first) and fills
// defaults. A missing file is not an error when the environment supplies
// everything required.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"FAIR_SERVER_ADDR":     &c.Server.Addr,
		"FAIR_DATABASE_DRIVER": &c.Database.Driver,
		"FAIR_DATABASE_URL":    &c.Database.URL,
		"FAIR_DATABASE_PATH":   &c.Database.Path,
		"FAIR_RABBITMQ_URL":    &c.RabbitMQ.URL,
		"FAIR_JWT_SECRET":      &c.Auth.JWTSecret,
		"FAIR_LOG_LEVEL":       &c.Log.Level,
		"FAIR_ADMIN_USERNAME":  &c.Admin.Username,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPebble
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/fair"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RateLimit.MessagesPerMinute <= 0 {
		c.RateLimit.MessagesPerMinute = 30
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for the postgres driver")
		}
	case DriverPebble:
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	return nil
}
