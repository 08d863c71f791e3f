// Package config loads and validates the pipeline's configuration from
// YAML plus environment overrides, the way the teacher repo's
// internal/config does it: a typed struct, a literal set of defaults,
// and a Validate pass that rejects inconsistent settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Redis configures the job store / claim service / quota tracker
// connection.
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

// EventBus configures the NATS JetStream connection shared by every
// stage worker, the scheduler, and the retry controller.
type EventBus struct {
	URL               string        `mapstructure:"url"`
	StreamName        string        `mapstructure:"stream_name"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	AckWait           time.Duration `mapstructure:"ack_wait"`
	MaxDeliver        int           `mapstructure:"max_deliver"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	DeadLetterSubject string        `mapstructure:"dead_letter_subject"`
}

// Backoff is a doubling backoff schedule shared by several components.
type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

// Retry configures the upload retry / regeneration policy (spec §4.7).
type Retry struct {
	MaxUploadRetries int     `mapstructure:"max_upload_retries"`
	MaxRegenerations int     `mapstructure:"max_regenerations"`
	Backoff          Backoff `mapstructure:"backoff"`
}

// Scheduler configures the upload scheduler's per-channel cadence tick.
type Scheduler struct {
	TickCron string `mapstructure:"tick_cron"`
}

// Reaper configures the stale-job sweep (spec §7, class 7).
type Reaper struct {
	ScanInterval  time.Duration            `mapstructure:"scan_interval"`
	StageMaxAge   map[string]time.Duration `mapstructure:"stage_max_age"`
	DefaultMaxAge time.Duration            `mapstructure:"default_max_age"`
}

// Cleanup configures the retention-window sweep that lazily destroys
// terminal jobs (spec §3.1, §4.10).
type Cleanup struct {
	Interval        time.Duration `mapstructure:"interval"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`
}

// Upload configures pre-upload validation thresholds (spec §4.6).
type Upload struct {
	MinFileSizeBytes int64 `mapstructure:"min_file_size_bytes"`
	MaxTags          int   `mapstructure:"max_tags"`
	MaxTagLength     int   `mapstructure:"max_tag_length"`
	HangulLowRune    rune  `mapstructure:"-"`
	HangulHighRune   rune  `mapstructure:"-"`
	DailyQuotaCap    int64 `mapstructure:"daily_quota_cap"`
}

// KeyPool configures the multi-key LLM client pool (spec §5).
type KeyPool struct {
	Cooldown      time.Duration `mapstructure:"cooldown"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// Admin configures the administrative HTTP surface (spec §6).
type Admin struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WorkQueueDepth int           `mapstructure:"work_queue_depth"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

// Observability is a backwards-compatible alias, matching the teacher's
// own alias pattern for renamed config sections.
type Observability = ObservabilityConfig

// Config is the root configuration object, resolved once at startup and
// passed by value/pointer to every component — no globals.
type Config struct {
	ChannelID     string        `mapstructure:"channel_id"`
	Redis         Redis         `mapstructure:"redis"`
	EventBus      EventBus      `mapstructure:"event_bus"`
	Retry         Retry         `mapstructure:"retry"`
	Scheduler     Scheduler     `mapstructure:"scheduler"`
	Reaper        Reaper        `mapstructure:"reaper"`
	Cleanup       Cleanup       `mapstructure:"cleanup"`
	Upload        Upload        `mapstructure:"upload"`
	KeyPool       KeyPool       `mapstructure:"key_pool"`
	Admin         Admin         `mapstructure:"admin"`
	Observability Observability `mapstructure:"observability"`
	ChannelsFile  string        `mapstructure:"channels_file"`
}

func defaultConfig() *Config {
	return &Config{
		ChannelID: "news-shorts",
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		EventBus: EventBus{
			URL:               "nats://localhost:4222",
			StreamName:        "PIPELINE",
			ConnectTimeout:    5 * time.Second,
			AckWait:           30 * time.Second,
			MaxDeliver:        3,
			BackoffBase:       1 * time.Second,
			BackoffMax:        30 * time.Second,
			DeadLetterSubject: "pipeline.dead-letter",
		},
		Retry: Retry{
			MaxUploadRetries: 3,
			MaxRegenerations: 1,
			Backoff:          Backoff{Base: 60 * time.Second, Max: 240 * time.Second},
		},
		Scheduler: Scheduler{TickCron: "@every 5m"},
		Reaper: Reaper{
			ScanInterval:  30 * time.Second,
			DefaultMaxAge: 2 * time.Hour,
			StageMaxAge: map[string]time.Duration{
				"SCRIPTING":         20 * time.Minute,
				"ASSETS_GENERATING": 45 * time.Minute,
				"RENDERING":         60 * time.Minute,
				"UPLOADING":         10 * time.Minute,
			},
		},
		Cleanup: Cleanup{Interval: 1 * time.Hour, RetentionWindow: 30 * 24 * time.Hour},
		Upload: Upload{
			MinFileSizeBytes: 1 << 20,
			MaxTags:          20,
			MaxTagLength:     30,
			HangulLowRune:    0xAC00,
			HangulHighRune:   0xD7A3,
			DailyQuotaCap:    20,
		},
		KeyPool: KeyPool{Cooldown: 10 * time.Minute, RatePerSecond: 2, Burst: 4},
		Admin: Admin{
			ListenAddr:     ":8090",
			RequestTimeout: 30 * time.Second,
			WorkQueueDepth: 256,
		},
		Observability: Observability{MetricsPort: 9090, LogLevel: "info"},
		ChannelsFile:  "config/channels.yaml",
	}
}

// Load reads configuration from a YAML file with environment overrides,
// the way the teacher's internal/config.Load does.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("channel_id", def.ChannelID)

	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("event_bus.url", def.EventBus.URL)
	v.SetDefault("event_bus.stream_name", def.EventBus.StreamName)
	v.SetDefault("event_bus.connect_timeout", def.EventBus.ConnectTimeout)
	v.SetDefault("event_bus.ack_wait", def.EventBus.AckWait)
	v.SetDefault("event_bus.max_deliver", def.EventBus.MaxDeliver)
	v.SetDefault("event_bus.backoff_base", def.EventBus.BackoffBase)
	v.SetDefault("event_bus.backoff_max", def.EventBus.BackoffMax)
	v.SetDefault("event_bus.dead_letter_subject", def.EventBus.DeadLetterSubject)

	v.SetDefault("retry.max_upload_retries", def.Retry.MaxUploadRetries)
	v.SetDefault("retry.max_regenerations", def.Retry.MaxRegenerations)
	v.SetDefault("retry.backoff.base", def.Retry.Backoff.Base)
	v.SetDefault("retry.backoff.max", def.Retry.Backoff.Max)

	v.SetDefault("scheduler.tick_cron", def.Scheduler.TickCron)

	v.SetDefault("reaper.scan_interval", def.Reaper.ScanInterval)
	v.SetDefault("reaper.default_max_age", def.Reaper.DefaultMaxAge)
	v.SetDefault("reaper.stage_max_age", def.Reaper.StageMaxAge)

	v.SetDefault("cleanup.interval", def.Cleanup.Interval)
	v.SetDefault("cleanup.retention_window", def.Cleanup.RetentionWindow)

	v.SetDefault("upload.min_file_size_bytes", def.Upload.MinFileSizeBytes)
	v.SetDefault("upload.max_tags", def.Upload.MaxTags)
	v.SetDefault("upload.max_tag_length", def.Upload.MaxTagLength)
	v.SetDefault("upload.daily_quota_cap", def.Upload.DailyQuotaCap)

	v.SetDefault("key_pool.cooldown", def.KeyPool.Cooldown)
	v.SetDefault("key_pool.rate_per_second", def.KeyPool.RatePerSecond)
	v.SetDefault("key_pool.burst", def.KeyPool.Burst)

	v.SetDefault("admin.listen_addr", def.Admin.ListenAddr)
	v.SetDefault("admin.request_timeout", def.Admin.RequestTimeout)
	v.SetDefault("admin.work_queue_depth", def.Admin.WorkQueueDepth)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)

	v.SetDefault("channels_file", def.ChannelsFile)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Upload.HangulLowRune = def.Upload.HangulLowRune
	cfg.Upload.HangulHighRune = def.Upload.HangulHighRune
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid
// settings.
func Validate(cfg *Config) error {
	if cfg.ChannelID == "" {
		return fmt.Errorf("channel_id must be set")
	}
	if cfg.Retry.MaxUploadRetries < 0 {
		return fmt.Errorf("retry.max_upload_retries must be >= 0")
	}
	if cfg.Retry.MaxRegenerations < 0 {
		return fmt.Errorf("retry.max_regenerations must be >= 0")
	}
	if cfg.EventBus.MaxDeliver < 1 {
		return fmt.Errorf("event_bus.max_deliver must be >= 1")
	}
	if cfg.Upload.MinFileSizeBytes < 0 {
		return fmt.Errorf("upload.min_file_size_bytes must be >= 0")
	}
	if cfg.Upload.MaxTags <= 0 {
		return fmt.Errorf("upload.max_tags must be > 0")
	}
	if cfg.Upload.DailyQuotaCap < 0 {
		return fmt.Errorf("upload.daily_quota_cap must be >= 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.Admin.WorkQueueDepth <= 0 {
		return fmt.Errorf("admin.work_queue_depth must be > 0")
	}
	return nil
}
