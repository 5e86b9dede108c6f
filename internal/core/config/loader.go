package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Pipeline.PollInterval == 0 {
		cfg.Pipeline.PollInterval = 5 * time.Minute
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 4
	}
	if cfg.Pipeline.MaxCrossCycleAttempts == 0 {
		cfg.Pipeline.MaxCrossCycleAttempts = 10
	}
	if cfg.Pipeline.Retry.MaxAttempts == 0 {
		cfg.Pipeline.Retry.MaxAttempts = 3
	}
	if cfg.Pipeline.Retry.BaseDelay == 0 {
		cfg.Pipeline.Retry.BaseDelay = 2 * time.Second
	}
	if cfg.Pipeline.Retry.MaxDelay == 0 {
		cfg.Pipeline.Retry.MaxDelay = 5 * time.Minute
	}
	if cfg.Pipeline.Retry.Jitter == 0 {
		cfg.Pipeline.Retry.Jitter = time.Second
	}
	if cfg.Retention.Sent == 0 {
		cfg.Retention.Sent = 90 * 24 * time.Hour
	}
	if cfg.Retention.DeadLetters == 0 {
		cfg.Retention.DeadLetters = 90 * 24 * time.Hour
	}
	if cfg.Retention.Sessions == 0 {
		cfg.Retention.Sessions = 7 * 24 * time.Hour
	}
	if cfg.Retention.Tokens == 0 {
		cfg.Retention.Tokens = 24 * time.Hour
	}
}

func validate(cfg *AppConfig) error {
	tenants := make(map[string]bool, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		if t.Name == "" {
			return fmt.Errorf("tenant with empty name")
		}
		if tenants[t.Name] {
			return fmt.Errorf("duplicate tenant %q", t.Name)
		}
		tenants[t.Name] = true
	}
	for _, loc := range cfg.Locations {
		if loc.SourceID == "" {
			return fmt.Errorf("location with empty source_id")
		}
		if !tenants[loc.Tenant] {
			return fmt.Errorf("location %s references unknown tenant %q", loc.SourceID, loc.Tenant)
		}
	}
	return nil
}
