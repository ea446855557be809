package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Feedsim  FeedsimConfig  `mapstructure:"feedsim"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// UpstreamConfig describes the external market-data feed connection.
type UpstreamConfig struct {
	URL              string        `mapstructure:"url"`
	Key              string        `mapstructure:"key"`
	Secret           string        `mapstructure:"secret"`
	ReconnectFloor   time.Duration `mapstructure:"reconnect_floor"`
	ReconnectCeiling time.Duration `mapstructure:"reconnect_ceiling"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig describes the durable event stream backing the relay.
type QueueConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	Group   string `mapstructure:"group"`
	MaxLen  int64  `mapstructure:"maxlen"`
}

type FeedsimConfig struct {
	Addr     string        `mapstructure:"addr"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	// This ensures variables like APP_PORT are available as real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")

	v.SetDefault("upstream.url", "wss://stream.data.alpaca.markets/v2/iex")
	v.SetDefault("upstream.key", "")
	v.SetDefault("upstream.secret", "")
	v.SetDefault("upstream.reconnect_floor", time.Second)
	v.SetDefault("upstream.reconnect_ceiling", 30*time.Second)
	v.SetDefault("upstream.read_timeout", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.stream", "quote_events")
	v.SetDefault("queue.group", "quote_consumers")
	v.SetDefault("queue.maxlen", 10000)

	v.SetDefault("feedsim.addr", ":9100")
	v.SetDefault("feedsim.interval", 500*time.Millisecond)

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level")
	bindEnv(v, "upstream.url", "upstream.key", "upstream.secret",
		"upstream.reconnect_floor", "upstream.reconnect_ceiling", "upstream.read_timeout")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "queue.enabled", "queue.stream", "queue.group", "queue.maxlen")
	bindEnv(v, "feedsim.addr", "feedsim.interval")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if cfg.Queue.Enabled && cfg.Queue.Stream == "" {
		return nil, fmt.Errorf("queue stream name cannot be empty")
	}
	if cfg.Queue.Enabled && cfg.Queue.Group == "" {
		return nil, fmt.Errorf("queue consumer group cannot be empty")
	}
	if cfg.Upstream.ReconnectFloor <= 0 || cfg.Upstream.ReconnectCeiling < cfg.Upstream.ReconnectFloor {
		return nil, fmt.Errorf("invalid upstream reconnect window: floor=%v ceiling=%v",
			cfg.Upstream.ReconnectFloor, cfg.Upstream.ReconnectCeiling)
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
