// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CacheConfig selects and configures the tiered cache backend.
type CacheConfig struct {
	Backend       string `mapstructure:"backend"` // redis | postgres | memory
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// FlatTTLSeconds applies only to the postgres backend, which collapses
	// the hot/warm/cold tiers into a single TTL.
	FlatTTLSeconds int `mapstructure:"flat_ttl_seconds"`
}

// CaptureConfig governs the headless browser worker.
type CaptureConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	NavMaxAttempts    int    `mapstructure:"nav_max_attempts"`
	SettleDelayMs     int    `mapstructure:"settle_delay_ms"`
	JPEGQuality       int    `mapstructure:"jpeg_quality"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	ReadyFallbackMs   int    `mapstructure:"ready_fallback_ms"`
	BackoffBaseMs     int    `mapstructure:"backoff_base_ms"`
}

// EnsembleConfig tunes the multi-model analysis service.
type EnsembleConfig struct {
	ProviderTimeoutSec int `mapstructure:"provider_timeout_seconds"`
	MaxIssues          int `mapstructure:"max_issues"`
	ResultTTLSeconds   int `mapstructure:"result_ttl_seconds"`
}

// ProvidersConfig holds the per-vendor credentials and model names.
type ProvidersConfig struct {
	OpenAIKey      string `mapstructure:"openai_key"`
	OpenAIModel    string `mapstructure:"openai_model"`
	AnthropicKey   string `mapstructure:"anthropic_key"`
	AnthropicModel string `mapstructure:"anthropic_model"`
	GeminiKey      string `mapstructure:"gemini_key"`
	GeminiModel    string `mapstructure:"gemini_model"`
}

// QueueConfig configures the screenshot job queue.
//
// VisibilityTimeoutSec must exceed the worst-case job latency with margin:
// up to nav_max_attempts navigation attempts of nav_timeout_seconds each,
// plus backoff, image processing, and uploads. With the defaults (3×30s nav
// plus 2s+4s backoff) a 120s timeout leaves roughly 20s of margin; shrink
// the capture budget before shrinking this value, or the queue will
// redeliver jobs that are still in flight.
type QueueConfig struct {
	Provider             string `mapstructure:"provider"` // pubsub | memory
	ProjectID            string `mapstructure:"project_id"`
	TopicID              string `mapstructure:"topic_id"`
	SubscriptionID       string `mapstructure:"subscription_id"`
	MaxConcurrent        int    `mapstructure:"max_concurrent"`
	VisibilityTimeoutSec int    `mapstructure:"visibility_timeout_seconds"`
	MemoryDepth          int    `mapstructure:"memory_depth"`
	MemoryMaxAttempts    int    `mapstructure:"memory_max_attempts"`
}

// StorageConfig sets the blob storage destination for screenshots.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // gcs | memory
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the roast record database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PipelineConfig tunes request-side behavior.
type PipelineConfig struct {
	SubmitRatePerSec float64 `mapstructure:"submit_rate_per_sec"`
	SubmitBurst      int     `mapstructure:"submit_burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROASTPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.flat_ttl_seconds", 3600)
	v.SetDefault("capture.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 RoastMyLanding/1.0")
	v.SetDefault("capture.nav_timeout_seconds", 30)
	v.SetDefault("capture.nav_max_attempts", 3)
	v.SetDefault("capture.settle_delay_ms", 1000)
	v.SetDefault("capture.jpeg_quality", 85)
	v.SetDefault("capture.max_parallel", 3)
	v.SetDefault("capture.ready_fallback_ms", 5000)
	v.SetDefault("capture.backoff_base_ms", 2000)
	v.SetDefault("ensemble.provider_timeout_seconds", 15)
	v.SetDefault("ensemble.max_issues", 4)
	v.SetDefault("ensemble.result_ttl_seconds", 3600)
	v.SetDefault("providers.openai_model", "gpt-4-turbo")
	v.SetDefault("providers.anthropic_model", "claude-3-5-sonnet-20241022")
	v.SetDefault("providers.gemini_model", "gemini-1.5-flash")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.max_concurrent", 3)
	v.SetDefault("queue.visibility_timeout_seconds", 120)
	v.SetDefault("queue.memory_depth", 64)
	v.SetDefault("queue.memory_max_attempts", 3)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "roasts")
	v.SetDefault("pipeline.submit_rate_per_sec", 5)
	v.SetDefault("pipeline.submit_burst", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Cache.Backend {
	case "redis", "postgres", "memory":
	default:
		return fmt.Errorf("cache.backend must be redis, postgres, or memory")
	}
	if c.Cache.Backend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when cache.backend is postgres")
	}
	if c.Capture.NavMaxAttempts <= 0 {
		return fmt.Errorf("capture.nav_max_attempts must be > 0")
	}
	if c.Capture.NavTimeoutSec <= 0 {
		return fmt.Errorf("capture.nav_timeout_seconds must be > 0")
	}
	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("queue.max_concurrent must be > 0")
	}
	if c.Queue.Provider == "pubsub" && (c.Queue.ProjectID == "" || c.Queue.SubscriptionID == "") {
		return fmt.Errorf("queue.project_id and queue.subscription_id must be set for pubsub")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if budget := c.WorstCaseCapture(); time.Duration(c.Queue.VisibilityTimeoutSec)*time.Second <= budget {
		return fmt.Errorf("queue.visibility_timeout_seconds (%d) must exceed the worst-case capture budget (%s)",
			c.Queue.VisibilityTimeoutSec, budget)
	}
	return nil
}

// WorstCaseCapture returns the upper bound on navigation time for one job:
// every attempt times out and every backoff is taken.
func (c Config) WorstCaseCapture() time.Duration {
	nav := time.Duration(c.Capture.NavTimeoutSec) * time.Second * time.Duration(c.Capture.NavMaxAttempts)
	var backoff time.Duration
	for i := 1; i < c.Capture.NavMaxAttempts; i++ {
		backoff += time.Duration(c.Capture.BackoffBaseMs*i) * time.Millisecond
	}
	return nav + backoff
}
