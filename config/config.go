package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Arbitration struct {
		Fee     uint64 `yaml:"fee"`
		Account string `yaml:"account"`
	} `yaml:"arbitration"`
	Sweeper struct {
		Cron string `yaml:"cron"`
	} `yaml:"sweeper"`
	Outbox struct {
		Interval Duration `yaml:"interval"`
	} `yaml:"outbox"`
}

// Duration decodes Go duration strings ("5s", "250ms") from yaml, which
// yaml.v3 does not do for time.Duration itself.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ARBITRATION_FEE"); v != "" {
		fee, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: parse ARBITRATION_FEE: %w", err)
		}
		cfg.Arbitration.Fee = fee
	}
	if v := os.Getenv("ARBITRATION_ACCOUNT"); v != "" {
		cfg.Arbitration.Account = v
	}
	if v := os.Getenv("SWEEPER_CRON"); v != "" {
		cfg.Sweeper.Cron = v
	}
	if v := os.Getenv("OUTBOX_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: parse OUTBOX_INTERVAL: %w", err)
		}
		cfg.Outbox.Interval = Duration(d)
	}

	// Defaults
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Arbitration.Fee == 0 {
		cfg.Arbitration.Fee = 10
	}
	if cfg.Arbitration.Account == "" {
		cfg.Arbitration.Account = "arbitration-pool"
	}
	if cfg.Sweeper.Cron == "" {
		cfg.Sweeper.Cron = "0 */5 * * * *"
	}
	if cfg.Outbox.Interval == 0 {
		cfg.Outbox.Interval = Duration(5 * time.Second)
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}
