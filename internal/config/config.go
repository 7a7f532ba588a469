// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// JobDefaults are the enqueue parameters applied when a publish call omits
// them.
type JobDefaults struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// Consumer configures one consumer loop instance bound to a single queue.
type Consumer struct {
	Queue               string        `mapstructure:"queue"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	PromoteInterval      time.Duration `mapstructure:"promote_interval"`
	PromoteBatch        int64         `mapstructure:"promote_batch"`
	ReapInterval        time.Duration `mapstructure:"reap_interval"`
	ReapBatch           int64         `mapstructure:"reap_batch"`
	ReserveScanLimit    int64         `mapstructure:"reserve_scan_limit"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"` // 0 = derive from job timeout
	Drain               bool          `mapstructure:"drain"`
	BreakerPause        time.Duration `mapstructure:"breaker_pause"`
}

// Publisher configures the publishing façade, including the optional
// bulk-directory CLI mode.
type Publisher struct {
	Queue        string      `mapstructure:"queue"`
	Defaults     JobDefaults `mapstructure:"defaults"`
	RateLimitKey string      `mapstructure:"rate_limit_key"`
	RatePerSec   float64     `mapstructure:"rate_per_sec"`
	RateBurst    int         `mapstructure:"rate_burst"`

	ScanDir      string   `mapstructure:"scan_dir"`
	IncludeGlobs []string `mapstructure:"include_globs"`
	ExcludeGlobs []string `mapstructure:"exclude_globs"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled               bool              `mapstructure:"enabled"`
	Endpoint              string            `mapstructure:"endpoint"`
	Environment           string            `mapstructure:"environment"`
	SamplingStrategy      string            `mapstructure:"sampling_strategy"`
	SamplingRate          float64           `mapstructure:"sampling_rate"`
	BatchTimeout          time.Duration     `mapstructure:"batch_timeout"`
	MaxExportBatchSize    int               `mapstructure:"max_export_batch_size"`
	Headers               map[string]string `mapstructure:"headers"`
	Insecure              bool              `mapstructure:"insecure"`
	PropagationFormat     string            `mapstructure:"propagation_format"`
	AttributeAllowlist    []string          `mapstructure:"attribute_allowlist"`
	RedactSensitive       bool              `mapstructure:"redact_sensitive"`
	EnableMetricExemplars bool              `mapstructure:"enable_metric_exemplars"`
}

// Tracing is a backwards-compatible alias
type Tracing = TracingConfig

type ObservabilityConfig struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	Tracing             TracingConfig `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
	LogFile             string        `mapstructure:"log_file"`
	LogMaxSizeMB        int           `mapstructure:"log_max_size_mb"`
	LogMaxBackups       int           `mapstructure:"log_max_backups"`
	LogMaxAgeDays       int           `mapstructure:"log_max_age_days"`
}

// Observability is a backwards-compatible alias
type Observability = ObservabilityConfig

// MonitorAPI configures the read-only monitoring HTTP surface.
type MonitorAPI struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Redis          Redis          `mapstructure:"redis"`
	Consumer       Consumer       `mapstructure:"consumer"`
	Publisher      Publisher      `mapstructure:"publisher"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
	MonitorAPI     MonitorAPI     `mapstructure:"monitor_api"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Consumer: Consumer{
			Queue:            "jobs",
			PollInterval:     50 * time.Millisecond,
			PromoteInterval:  1 * time.Second,
			PromoteBatch:     1000,
			ReapInterval:     1 * time.Second,
			ReapBatch:        1000,
			ReserveScanLimit: 50,
			Drain:            true,
			BreakerPause:     100 * time.Millisecond,
		},
		Publisher: Publisher{
			Queue: "jobs",
			Defaults: JobDefaults{
				MaxAttempts: 3,
				Timeout:     60 * time.Second,
				Backoff:     5 * time.Second,
			},
			RateLimitKey: "jobqueue:rate_limit:publisher",
			RatePerSec:   100,
			RateBurst:    100,
			ScanDir:      "./data",
			IncludeGlobs: []string{"**/*"},
			ExcludeGlobs: []string{"**/*.tmp", "**/.DS_Store"},
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: Observability{
			MetricsPort:         9090,
			LogLevel:            "info",
			Tracing:             Tracing{Enabled: false},
			QueueSampleInterval: 2 * time.Second,
		},
		MonitorAPI: MonitorAPI{
			Addr: ":8090",
		},
	}
}

// Load reads configuration from a YAML file with env var overrides layered
// on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("consumer.queue", def.Consumer.Queue)
	v.SetDefault("consumer.poll_interval", def.Consumer.PollInterval)
	v.SetDefault("consumer.promote_interval", def.Consumer.PromoteInterval)
	v.SetDefault("consumer.promote_batch", def.Consumer.PromoteBatch)
	v.SetDefault("consumer.reap_interval", def.Consumer.ReapInterval)
	v.SetDefault("consumer.reap_batch", def.Consumer.ReapBatch)
	v.SetDefault("consumer.reserve_scan_limit", def.Consumer.ReserveScanLimit)
	v.SetDefault("consumer.heartbeat_interval", def.Consumer.HeartbeatInterval)
	v.SetDefault("consumer.drain", def.Consumer.Drain)
	v.SetDefault("consumer.breaker_pause", def.Consumer.BreakerPause)

	v.SetDefault("publisher.queue", def.Publisher.Queue)
	v.SetDefault("publisher.defaults.max_attempts", def.Publisher.Defaults.MaxAttempts)
	v.SetDefault("publisher.defaults.timeout", def.Publisher.Defaults.Timeout)
	v.SetDefault("publisher.defaults.backoff", def.Publisher.Defaults.Backoff)
	v.SetDefault("publisher.rate_limit_key", def.Publisher.RateLimitKey)
	v.SetDefault("publisher.rate_per_sec", def.Publisher.RatePerSec)
	v.SetDefault("publisher.rate_burst", def.Publisher.RateBurst)
	v.SetDefault("publisher.scan_dir", def.Publisher.ScanDir)
	v.SetDefault("publisher.include_globs", def.Publisher.IncludeGlobs)
	v.SetDefault("publisher.exclude_globs", def.Publisher.ExcludeGlobs)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)
	v.SetDefault("observability.log_file", def.Observability.LogFile)
	v.SetDefault("observability.log_max_size_mb", def.Observability.LogMaxSizeMB)
	v.SetDefault("observability.log_max_backups", def.Observability.LogMaxBackups)
	v.SetDefault("observability.log_max_age_days", def.Observability.LogMaxAgeDays)

	v.SetDefault("monitor_api.addr", def.MonitorAPI.Addr)

	// Optional file read; env vars and defaults still apply without one.
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Consumer.Queue == "" {
		return fmt.Errorf("consumer.queue must be set")
	}
	if cfg.Consumer.PollInterval <= 0 {
		return fmt.Errorf("consumer.poll_interval must be > 0")
	}
	if cfg.Consumer.PromoteBatch <= 0 || cfg.Consumer.ReapBatch <= 0 {
		return fmt.Errorf("consumer.promote_batch and consumer.reap_batch must be > 0")
	}
	if cfg.Consumer.ReserveScanLimit <= 0 {
		return fmt.Errorf("consumer.reserve_scan_limit must be > 0")
	}
	if cfg.Publisher.Defaults.MaxAttempts < 1 {
		return fmt.Errorf("publisher.defaults.max_attempts must be >= 1")
	}
	if cfg.Publisher.Defaults.Timeout <= 0 {
		return fmt.Errorf("publisher.defaults.timeout must be > 0")
	}
	if cfg.Publisher.RatePerSec < 0 {
		return fmt.Errorf("publisher.rate_per_sec must be >= 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
