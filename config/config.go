package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// JobsConfig drives the scheduled automation workers.
type JobsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	BatchSize       int           `yaml:"batch_size"`
	LockTTLMinutes  int           `yaml:"lock_ttl_minutes"`
	LockTTL         time.Duration `yaml:"-"`

	CheckInFallbackDelayMinutes int           `yaml:"check_in_fallback_delay_minutes"`
	CheckInFallbackDelay        time.Duration `yaml:"-"`
	ReminderLeadMinutes         int           `yaml:"reminder_lead_minutes"`
	ReminderLead                time.Duration `yaml:"-"`
}

// LifecycleConfig holds the dispute-window durations used by the booking
// state machine.
type LifecycleConfig struct {
	GuestDisputeWindowMinutes   int           `yaml:"guest_dispute_window_minutes"`
	GuestDisputeWindow          time.Duration `yaml:"-"`
	RealtorDisputeWindowMinutes int           `yaml:"realtor_dispute_window_minutes"`
	RealtorDisputeWindow        time.Duration `yaml:"-"`
	DisputeGraceMinutes         int           `yaml:"dispute_grace_minutes"`
	DisputeGrace                time.Duration `yaml:"-"`
}

// GatewayConfig holds payment gateway credentials.
type GatewayConfig struct {
	StripeAPIKey string `yaml:"stripe_api_key"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in the defaults for anything the file left unset. It
// is exported so tests can build a Config from scratch.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Jobs.IntervalSeconds <= 0 {
		cfg.Jobs.IntervalSeconds = 300
	}
	cfg.Jobs.Interval = time.Duration(cfg.Jobs.IntervalSeconds) * time.Second

	if cfg.Jobs.BatchSize <= 0 || cfg.Jobs.BatchSize > 200 {
		cfg.Jobs.BatchSize = 100
	}
	if cfg.Jobs.LockTTLMinutes <= 0 {
		cfg.Jobs.LockTTLMinutes = 10
	}
	cfg.Jobs.LockTTL = time.Duration(cfg.Jobs.LockTTLMinutes) * time.Minute

	if cfg.Jobs.CheckInFallbackDelayMinutes <= 0 {
		cfg.Jobs.CheckInFallbackDelayMinutes = 30
	}
	cfg.Jobs.CheckInFallbackDelay = time.Duration(cfg.Jobs.CheckInFallbackDelayMinutes) * time.Minute

	if cfg.Jobs.ReminderLeadMinutes <= 0 {
		cfg.Jobs.ReminderLeadMinutes = 120
	}
	cfg.Jobs.ReminderLead = time.Duration(cfg.Jobs.ReminderLeadMinutes) * time.Minute

	if cfg.Lifecycle.GuestDisputeWindowMinutes <= 0 {
		cfg.Lifecycle.GuestDisputeWindowMinutes = 120
	}
	cfg.Lifecycle.GuestDisputeWindow = time.Duration(cfg.Lifecycle.GuestDisputeWindowMinutes) * time.Minute

	if cfg.Lifecycle.RealtorDisputeWindowMinutes <= 0 {
		cfg.Lifecycle.RealtorDisputeWindowMinutes = 240
	}
	cfg.Lifecycle.RealtorDisputeWindow = time.Duration(cfg.Lifecycle.RealtorDisputeWindowMinutes) * time.Minute

	if cfg.Lifecycle.DisputeGraceMinutes <= 0 {
		cfg.Lifecycle.DisputeGraceMinutes = 10
	}
	cfg.Lifecycle.DisputeGrace = time.Duration(cfg.Lifecycle.DisputeGraceMinutes) * time.Minute

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}
