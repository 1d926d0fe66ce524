package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Blob       BlobConfig       `yaml:"blob"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Heuristics HeuristicsConfig `yaml:"heuristics"`
}

type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type BlobConfig struct {
	Dir string `yaml:"dir"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
}

// TrackingConfig holds the client-side collection knobs.
type TrackingConfig struct {
	ScrollThrottle   time.Duration `yaml:"scroll_throttle"`
	ScrollModeLimit  time.Duration `yaml:"scroll_mode_limit"`
	RecordModeLimit  time.Duration `yaml:"record_mode_limit"`
	SnapshotCacheTTL time.Duration `yaml:"snapshot_cache_ttl"`
}

// HeuristicsConfig holds the reconstruction thresholds. The paragraph
// height is an estimate, not a layout measurement; accuracy degrades on
// content with highly variable paragraph heights.
type HeuristicsConfig struct {
	HoverMinimumMs             int64 `yaml:"hover_minimum_ms"`
	InactivityThresholdMs      int64 `yaml:"inactivity_threshold_ms"`
	EstimatedParagraphHeightPx int   `yaml:"estimated_paragraph_height_px"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills zero values with the documented defaults.
func (cfg *Config) SetDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.Blob.Dir == "" {
		cfg.Blob.Dir = "data/recordings"
	}

	if cfg.Tracking.ScrollThrottle == 0 {
		cfg.Tracking.ScrollThrottle = 100 * time.Millisecond
	}
	if cfg.Tracking.ScrollModeLimit == 0 {
		cfg.Tracking.ScrollModeLimit = 90 * time.Second
	}
	if cfg.Tracking.RecordModeLimit == 0 {
		cfg.Tracking.RecordModeLimit = 10 * time.Minute
	}
	if cfg.Tracking.SnapshotCacheTTL == 0 {
		cfg.Tracking.SnapshotCacheTTL = time.Minute
	}

	if cfg.Heuristics.HoverMinimumMs == 0 {
		cfg.Heuristics.HoverMinimumMs = 200
	}
	if cfg.Heuristics.InactivityThresholdMs == 0 {
		cfg.Heuristics.InactivityThresholdMs = 5000
	}
	if cfg.Heuristics.EstimatedParagraphHeightPx == 0 {
		cfg.Heuristics.EstimatedParagraphHeightPx = 100
	}
}
