package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName     string `mapstructure:"app_name"`
	Env         string `mapstructure:"app_env"`
	LogLevel    string `mapstructure:"log_level"`
	FeedsFile   string `mapstructure:"feeds_file"`
	SinksFile   string `mapstructure:"sinks_file"`
	WorkerCount int    `mapstructure:"worker_count"`

	SchedulerIntervalSeconds int64         `mapstructure:"scheduler_interval"`
	SchedulerInterval        time.Duration `mapstructure:"-"`

	StorageType string `mapstructure:"storage_type"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	QueueType      string `mapstructure:"queue_type"`
	QueueBuffer    int    `mapstructure:"queue_buffer"`
	SQSQueueURL    string `mapstructure:"sqs_queue_url"`
	AWSRegion      string `mapstructure:"aws_region"`
	AWSEndpoint    string `mapstructure:"aws_endpoint"`
	AWSAccessKeyID string `mapstructure:"aws_access_key_id"`
	AWSSecretKey   string `mapstructure:"aws_secret_access_key" json:"-"`

	TaskTimeoutSeconds int64         `mapstructure:"task_timeout_seconds"`
	TaskTimeout        time.Duration `mapstructure:"-"`

	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `mapstructure:"-"`
	MaxRedirects       int           `mapstructure:"max_redirects"`
	UserAgent          string        `mapstructure:"user_agent"`

	APIBaseURL         string        `mapstructure:"api_base_url"`
	APICacheType       string        `mapstructure:"api_cache_type"`
	APICacheTTLSeconds int64         `mapstructure:"api_cache_ttl_seconds"`
	APICacheTTL        time.Duration `mapstructure:"-"`
	RedisURL           string        `mapstructure:"redis_url"`

	SecretKey    string `mapstructure:"secret_key" json:"-"`
	SecretKeyRaw []byte `mapstructure:"-" json:"-"`

	MaxMessageLength int  `mapstructure:"max_message_length"`
	LinkAsComment    bool `mapstructure:"link_as_comment"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "samvad-feed-syndicator")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("feeds_file", "./configs/feeds.yaml")
	v.SetDefault("sinks_file", "./configs/sinks.yaml")
	v.SetDefault("worker_count", 4)
	v.SetDefault("scheduler_interval", 60) // seconds
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/syndicator.db")
	v.SetDefault("queue_type", "memory")
	v.SetDefault("queue_buffer", 256)
	v.SetDefault("sqs_queue_url", "")
	v.SetDefault("aws_region", "")
	v.SetDefault("aws_endpoint", "")
	v.SetDefault("aws_access_key_id", "")
	v.SetDefault("aws_secret_access_key", "")
	v.SetDefault("task_timeout_seconds", 300)
	v.SetDefault("http_timeout_seconds", 15)
	v.SetDefault("max_redirects", 5)
	v.SetDefault("user_agent", "samvad-feed-syndicator/1.0")
	v.SetDefault("api_base_url", "")
	v.SetDefault("api_cache_type", "memory")
	v.SetDefault("api_cache_ttl_seconds", 300)
	v.SetDefault("redis_url", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("max_message_length", 5000)
	v.SetDefault("link_as_comment", true)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	if c.SchedulerIntervalSeconds <= 0 {
		return fmt.Errorf("invalid scheduler_interval (must be positive seconds)")
	}
	c.SchedulerInterval = time.Duration(c.SchedulerIntervalSeconds) * time.Second

	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	c.HTTPTimeout = time.Duration(c.HTTPTimeoutSeconds) * time.Second

	if c.TaskTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid task_timeout_seconds (must be positive seconds)")
	}
	c.TaskTimeout = time.Duration(c.TaskTimeoutSeconds) * time.Second

	if c.APICacheTTLSeconds < 0 {
		return fmt.Errorf("invalid api_cache_ttl_seconds (must not be negative)")
	}
	c.APICacheTTL = time.Duration(c.APICacheTTLSeconds) * time.Second

	if c.WorkerCount <= 0 {
		return fmt.Errorf("invalid worker_count (must be positive)")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("invalid max_redirects (must not be negative)")
	}
	if c.MaxMessageLength <= 3 {
		return fmt.Errorf("invalid max_message_length (must be greater than 3)")
	}

	c.QueueType = strings.ToLower(strings.TrimSpace(c.QueueType))
	if c.QueueType == "sqs" && strings.TrimSpace(c.SQSQueueURL) == "" {
		return fmt.Errorf("sqs_queue_url is required when queue_type is sqs")
	}
	c.APICacheType = strings.ToLower(strings.TrimSpace(c.APICacheType))
	if c.APICacheType == "redis" && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("redis_url is required when api_cache_type is redis")
	}

	if strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("secret_key is required (base64 encoded 32 bytes)")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.SecretKey))
	if err != nil {
		return fmt.Errorf("decode secret_key: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("secret_key must decode to 32 bytes, got %d", len(key))
	}
	c.SecretKeyRaw = key
	return nil
}
