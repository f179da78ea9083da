package models

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	BrokerKafka = "kafka"
	BrokerAsynq = "asynq"
)

type Config struct {
	ServerAddr        string        `yaml:"server_addr"`
	DatabaseURL       string        `yaml:"database_url"`
	StoragePath       string        `yaml:"storage_path"`
	Broker            string        `yaml:"broker"`
	KafkaBroker       string        `yaml:"kafka_broker"`
	KafkaTopic        string        `yaml:"kafka_topic"`
	KafkaGroup        string        `yaml:"kafka_group"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	QueueName         string        `yaml:"queue_name"`
	WorkerConcurrency int           `yaml:"worker_concurrency"`
	GroupCountdown    time.Duration `yaml:"group_countdown"`
	ResultTTL         time.Duration `yaml:"result_ttl"`
	MaxUploadSize     int64         `yaml:"max_upload_size"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
}

// DefaultConfig returns the values used for every key a config file omits.
func DefaultConfig() Config {
	return Config{
		ServerAddr:        ":8080",
		StoragePath:       "./media",
		Broker:            BrokerKafka,
		KafkaBroker:       "localhost:9092",
		KafkaTopic:        "wallpaper-tasks",
		KafkaGroup:        "wallpaper-workers",
		RedisAddr:         "localhost:6379",
		QueueName:         "default",
		WorkerConcurrency: 8,
		GroupCountdown:    10 * time.Second,
		ResultTTL:         24 * time.Hour,
		MaxUploadSize:     500 << 20,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML over the defaults, applies environment overrides and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = envOrDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envOrDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.KafkaBroker = envOrDefault("KAFKA_BROKER", cfg.KafkaBroker)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Broker {
	case BrokerKafka, BrokerAsynq:
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max_upload_size must be positive, got %d", c.MaxUploadSize)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker_concurrency must be positive, got %d", c.WorkerConcurrency)
	}
	if c.GroupCountdown < 0 {
		return fmt.Errorf("group_countdown must not be negative")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
