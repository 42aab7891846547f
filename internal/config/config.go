// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Bungie      BungieConfig      `mapstructure:"bungie"`
	DB          DBConfig          `mapstructure:"db"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Trigger     TriggerConfig     `mapstructure:"trigger"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BungieConfig governs access to the upstream Destiny 2 API.
type BungieConfig struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	RetryDelaySec     int    `mapstructure:"retry_delay_seconds"`
	RateCeilingPerSec int    `mapstructure:"rate_ceiling_per_second"`
}

// DBConfig controls the Postgres connection pool.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// RedisConfig controls the shared Redis instance used for rate limiting,
// run signals and the crawl trigger channel.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PipelineConfig governs queue capacities and stage concurrency.
type PipelineConfig struct {
	CharacterQueueDepth int    `mapstructure:"character_queue_depth"`
	ReportQueueDepth    int    `mapstructure:"report_queue_depth"`
	PgcrQueueDepth      int    `mapstructure:"pgcr_queue_depth"`
	CharacterWorkers    int    `mapstructure:"character_workers"`
	ReportWorkers       int    `mapstructure:"report_workers"`
	PgcrWorkers         int    `mapstructure:"pgcr_workers"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	IdlePolls           int    `mapstructure:"idle_polls"`
	HistoryPageSize     int    `mapstructure:"history_page_size"`
	EpochCutoff         string `mapstructure:"epoch_cutoff"`
}

// LeaderboardConfig describes the downstream compute trigger.
type LeaderboardConfig struct {
	ComputeURL  string `mapstructure:"compute_url"`
	SecurityKey string `mapstructure:"security_key"`
	Environment string `mapstructure:"environment"`
}

// TriggerConfig selects how crawl runs are started.
type TriggerConfig struct {
	Mode               string `mapstructure:"mode"` // schedule, redis or pubsub
	ScheduleHour       int    `mapstructure:"schedule_hour"`
	RedisChannel       string `mapstructure:"redis_channel"`
	PubSubProject      string `mapstructure:"pubsub_project"`
	PubSubSubscription string `mapstructure:"pubsub_subscription"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("logging.development", true)
	// Empty defaults keep these keys visible to AutomaticEnv.
	v.SetDefault("bungie.api_key", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("leaderboard.security_key", "")
	v.SetDefault("bungie.base_url", "https://www.bungie.net/Platform/")
	v.SetDefault("bungie.timeout_seconds", 30)
	v.SetDefault("bungie.max_attempts", 3)
	v.SetDefault("bungie.retry_delay_seconds", 5)
	v.SetDefault("bungie.rate_ceiling_per_second", 20)
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("pipeline.character_queue_depth", 10)
	v.SetDefault("pipeline.report_queue_depth", 30)
	v.SetDefault("pipeline.pgcr_queue_depth", 100)
	v.SetDefault("pipeline.character_workers", 20)
	v.SetDefault("pipeline.report_workers", 200)
	v.SetDefault("pipeline.pgcr_workers", 25)
	v.SetDefault("pipeline.poll_interval_seconds", 1)
	v.SetDefault("pipeline.idle_polls", 300)
	v.SetDefault("pipeline.history_page_size", 250)
	v.SetDefault("pipeline.epoch_cutoff", "2025-07-15T00:00:00Z")
	v.SetDefault("leaderboard.compute_url", "http://localhost:7187/api/activities/leaderboards/compute")
	v.SetDefault("leaderboard.environment", "development")
	v.SetDefault("trigger.mode", "schedule")
	v.SetDefault("trigger.schedule_hour", 0)
	v.SetDefault("trigger.redis_channel", "crawler:start")
}

// Validate checks required fields and cross-field constraints.
func (c Config) Validate() error {
	if c.Bungie.APIKey == "" {
		return fmt.Errorf("bungie.api_key is required")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Pipeline.CharacterQueueDepth <= 0 || c.Pipeline.ReportQueueDepth <= 0 || c.Pipeline.PgcrQueueDepth <= 0 {
		return fmt.Errorf("pipeline queue depths must be positive")
	}
	if c.Pipeline.CharacterWorkers <= 0 || c.Pipeline.ReportWorkers <= 0 || c.Pipeline.PgcrWorkers <= 0 {
		return fmt.Errorf("pipeline worker caps must be positive")
	}
	if _, err := time.Parse(time.RFC3339, c.Pipeline.EpochCutoff); err != nil {
		return fmt.Errorf("pipeline.epoch_cutoff must be RFC3339: %w", err)
	}
	switch c.Trigger.Mode {
	case "schedule", "redis", "pubsub":
	default:
		return fmt.Errorf("trigger.mode must be schedule, redis or pubsub")
	}
	if c.Trigger.Mode == "pubsub" && (c.Trigger.PubSubProject == "" || c.Trigger.PubSubSubscription == "") {
		return fmt.Errorf("trigger.mode is 'pubsub' but pubsub_project or pubsub_subscription is not set")
	}
	return nil
}

// EpochCutoffTime returns the parsed fixed backfill cutoff. Validate has
// already guaranteed the value parses.
func (c Config) EpochCutoffTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Pipeline.EpochCutoff)
	return t
}
