package config

import (
	"time"

	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/core/worker"
	"github.com/crmsync/leadrelay/internal/infra/crm"
	redisclient "github.com/crmsync/leadrelay/internal/infra/redis"
	"github.com/crmsync/leadrelay/internal/infra/snapshot"
	"github.com/crmsync/leadrelay/internal/infra/source"
	"github.com/crmsync/leadrelay/internal/infra/storage/sqlite"
	"github.com/crmsync/leadrelay/internal/pipeline/coordinator"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig                 `yaml:"server"`
	Logging   LoggingConfig                `yaml:"logging"`
	Database  sqlite.Config                `yaml:"database"`
	Redis     redisclient.Config           `yaml:"redis"`
	Snapshot  snapshot.Config              `yaml:"snapshot"`
	Source    source.Config                `yaml:"source"`
	CRM       crm.Config                   `yaml:"crm"`
	Pipeline  PipelineConfig               `yaml:"pipeline"`
	Retention worker.RetentionConfig       `yaml:"retention"`
	Tenants   []domain.Tenant              `yaml:"tenants"`
	Locations []coordinator.LocationConfig `yaml:"locations"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PipelineConfig holds delivery-loop settings.
type PipelineConfig struct {
	PollInterval          time.Duration `yaml:"poll_interval"`
	Concurrency           int           `yaml:"concurrency"`
	MaxCrossCycleAttempts int           `yaml:"max_cross_cycle_attempts"`
	ScopedFingerprints    bool          `yaml:"scoped_fingerprints"`
	Retry                 RetryConfig   `yaml:"retry"`
}

// RetryConfig holds per-delivery retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      time.Duration `yaml:"jitter"`
}
