package config

import (
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. It is loaded once at startup and
// injected as a value; services never read ambient globals.
type Config struct {
	ServiceName    string          `yaml:"service_name"`
	ServiceVersion string          `yaml:"service_version"`

	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Database    DatabaseConfig  `yaml:"database"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Engine      EngineConfig    `yaml:"engine"`
}

// SchedulerConfig tunes the background sweep worker.
type SchedulerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type TracingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ExporterEndpoint string  `yaml:"exporter_endpoint"`
	ExporterProtocol string  `yaml:"exporter_protocol"`
	SamplingRatio    float64 `yaml:"sampling_ratio"`
}

// EngineConfig is the versioned fee/limit record passed into every operation.
// All percentages are basis points, all amounts are smallest currency units.
type EngineConfig struct {
	Version int `yaml:"version"`

	FeeRecipient       string `yaml:"fee_recipient"`
	TransferFeeBps     int64  `yaml:"transfer_fee_bps"`
	PlatformFeeBps     int64  `yaml:"platform_fee_bps"`
	DistributionFeeBps int64  `yaml:"distribution_fee_bps"`

	TotalSharesCap     int64   `yaml:"total_shares_cap"`
	FraudScoreMax      float64 `yaml:"fraud_score_max"`
	MaxListingDays     int     `yaml:"max_listing_days"`
	EscrowTimeoutDays  int     `yaml:"escrow_timeout_days"`
	DefaultAfterDays   int     `yaml:"default_after_days"`
	AutoReleaseLagDays int     `yaml:"auto_release_lag_days"`

	Pool PoolConfig `yaml:"pool"`
}

type PoolConfig struct {
	Cap                 int64 `yaml:"cap"`
	MinDeposit          int64 `yaml:"min_deposit"`
	MaxDeposit          int64 `yaml:"max_deposit"`
	DepositFeeBps       int64 `yaml:"deposit_fee_bps"`
	WithdrawFeeBps      int64 `yaml:"withdraw_fee_bps"`
	PerformanceFeeBps   int64 `yaml:"performance_fee_bps"`
	EarlyWithdrawBps    int64 `yaml:"early_withdraw_bps"`
	MinLockDays         int   `yaml:"min_lock_days"`
}

// EscrowTimeout returns the configured escrow timeout as a duration.
func (e EngineConfig) EscrowTimeout() time.Duration {
	return time.Duration(e.EscrowTimeoutDays) * 24 * time.Hour
}

// DefaultAfter returns how long past due+grace a schedule may stay overdue
// before it is eligible for default.
func (e EngineConfig) DefaultAfter() time.Duration {
	return time.Duration(e.DefaultAfterDays) * 24 * time.Hour
}

// AutoReleaseLag returns how long past the invoice due date any caller may
// force an escrow release.
func (e EngineConfig) AutoReleaseLag() time.Duration {
	return time.Duration(e.AutoReleaseLagDays) * 24 * time.Hour
}

// MaxListingDuration returns the longest allowed marketplace listing lifetime.
func (e EngineConfig) MaxListingDuration() time.Duration {
	return time.Duration(e.MaxListingDays) * 24 * time.Hour
}

// FraudScoreThreshold returns the maximum accepted fraud score as a decimal.
func (e EngineConfig) FraudScoreThreshold() decimal.Decimal {
	return decimal.NewFromFloat(e.FraudScoreMax)
}

// MinLockPeriod returns the pool position age below which the early
// withdrawal penalty applies.
func (p PoolConfig) MinLockPeriod() time.Duration {
	return time.Duration(p.MinLockDays) * 24 * time.Hour
}

// Load reads a yaml config file and applies defaults. An empty path yields
// the default configuration.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// Default returns the default configuration used by tests and local runs.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "finternet"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:finternet.db?cache=shared"
	}
	if cfg.Tracing.ExporterProtocol == "" {
		cfg.Tracing.ExporterProtocol = "grpc"
	}
	if cfg.Tracing.SamplingRatio == 0 {
		cfg.Tracing.SamplingRatio = 1.0
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = time.Minute
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 100
	}

	e := &cfg.Engine
	if e.Version == 0 {
		e.Version = 1
	}
	if e.FeeRecipient == "" {
		e.FeeRecipient = "platform:fees"
	}
	if e.TransferFeeBps == 0 {
		e.TransferFeeBps = 50
	}
	if e.PlatformFeeBps == 0 {
		e.PlatformFeeBps = 250
	}
	if e.DistributionFeeBps == 0 {
		e.DistributionFeeBps = 100
	}
	if e.TotalSharesCap == 0 {
		e.TotalSharesCap = 1_000_000
	}
	if e.FraudScoreMax == 0 {
		e.FraudScoreMax = 0.5
	}
	if e.MaxListingDays == 0 {
		e.MaxListingDays = 365
	}
	if e.EscrowTimeoutDays == 0 {
		e.EscrowTimeoutDays = 30
	}
	if e.DefaultAfterDays == 0 {
		e.DefaultAfterDays = 30
	}
	if e.AutoReleaseLagDays == 0 {
		e.AutoReleaseLagDays = 7
	}

	p := &e.Pool
	if p.Cap == 0 {
		p.Cap = 1_000_000_000_000
	}
	if p.MinDeposit == 0 {
		p.MinDeposit = 10_000
	}
	if p.MaxDeposit == 0 {
		p.MaxDeposit = 100_000_000_000
	}
	if p.DepositFeeBps == 0 {
		p.DepositFeeBps = 50
	}
	if p.WithdrawFeeBps == 0 {
		p.WithdrawFeeBps = 50
	}
	if p.PerformanceFeeBps == 0 {
		p.PerformanceFeeBps = 1000
	}
	if p.EarlyWithdrawBps == 0 {
		p.EarlyWithdrawBps = 200
	}
	if p.MinLockDays == 0 {
		p.MinLockDays = 30
	}
}

// IsProduction reports whether the config targets a production deployment.
func (c Config) IsProduction() bool { return c.Environment == "production" }
