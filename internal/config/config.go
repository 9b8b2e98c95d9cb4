package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Config struct {
	Server  ServerConfig
	Discord DiscordConfig
	Sampler SamplerConfig
	Storage StorageConfig
	Notify  NotifyConfig
	Auth    AuthConfig
	Mimir   MimirConfig
	Summary SummaryConfig
	Log     LogConfig
}

type ServerConfig struct {
	Enabled bool
	Port    string
	Mode    string
}

type DiscordConfig struct {
	Token string
}

type SamplerConfig struct {
	Interval          time.Duration
	TickTimeout       time.Duration `mapstructure:"tick_timeout"`
	ReadyPollInterval time.Duration `mapstructure:"ready_poll_interval"`
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout"`
}

type StorageConfig struct {
	Driver      string
	Path        string
	DSN         string
	RedisURL    string        `mapstructure:"redis_url"`
	RedisKey    string        `mapstructure:"redis_key"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type NotifyConfig struct {
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	Lark          LarkConfig
}

// LarkConfig enables mirroring of change notifications to a Feishu/Lark chat.
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ChatID    string `mapstructure:"chat_id"`
}

func (l LarkConfig) Enabled() bool {
	return l.AppID != "" && l.AppSecret != "" && l.ChatID != ""
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MimirConfig struct {
	URL           string
	TenantHeader  string        `mapstructure:"tenant_header"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	AuthToken     string        `mapstructure:"auth_token"`
}

type SummaryConfig struct {
	Schedule string
}

type LogConfig struct {
	Level       string
	Development bool
	File        string
	MaxSizeMB   int `mapstructure:"max_size_mb"`
	MaxBackups  int `mapstructure:"max_backups"`
	MaxAgeDays  int `mapstructure:"max_age_days"`
}

// Load reads config.yaml (or configFile when set), GUARDIAN_* environment
// variables and a .env file, in increasing order of precedence for env.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Override with environment variables
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Storage.DSN = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Storage.RedisURL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Mimir.AuthToken = token
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("discord.token", "")

	v.SetDefault("sampler.interval", "1m")
	v.SetDefault("sampler.tick_timeout", "50s")
	v.SetDefault("sampler.ready_poll_interval", "2s")
	v.SetDefault("sampler.ready_timeout", "0s")

	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.path", "bot_data.json")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.redis_key", "presence-guardian:snapshot")
	v.SetDefault("storage.lock_timeout", "10s")

	v.SetDefault("notify.rate_per_second", 5)
	v.SetDefault("notify.burst", 5)
	v.SetDefault("notify.send_timeout", "10s")
	v.SetDefault("notify.lark.app_id", "")
	v.SetDefault("notify.lark.app_secret", "")
	v.SetDefault("notify.lark.chat_id", "")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("mimir.url", "")
	v.SetDefault("mimir.tenant_header", "X-Scope-OrgID")
	v.SetDefault("mimir.batch_size", 1000)
	v.SetDefault("mimir.flush_interval", "30s")
	v.SetDefault("mimir.auth_token", "")

	v.SetDefault("summary.schedule", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Validate checks the values the service cannot start without.
func (c *Config) Validate() error {
	if c.Sampler.Interval <= 0 {
		return fmt.Errorf("sampler.interval must be positive, got %s", c.Sampler.Interval)
	}
	if c.Sampler.TickTimeout <= 0 {
		return fmt.Errorf("sampler.tick_timeout must be positive, got %s", c.Sampler.TickTimeout)
	}
	if c.Sampler.ReadyPollInterval <= 0 {
		return fmt.Errorf("sampler.ready_poll_interval must be positive, got %s", c.Sampler.ReadyPollInterval)
	}

	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the file driver")
		}
	case DriverPostgres, DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("storage.redis_url is required for the redis driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Notify.RatePerSecond < 0 {
		return fmt.Errorf("notify.rate_per_second must not be negative, got %v", c.Notify.RatePerSecond)
	}

	if c.Summary.Schedule != "" {
		if _, err := ScheduleParser.Parse(c.Summary.Schedule); err != nil {
			return fmt.Errorf("invalid summary.schedule %q: %w", c.Summary.Schedule, err)
		}
	}

	if c.Mimir.URL != "" && c.Mimir.FlushInterval <= 0 {
		return fmt.Errorf("mimir.flush_interval must be positive, got %s", c.Mimir.FlushInterval)
	}
	return nil
}

// ScheduleParser accepts cron expressions with an optional leading seconds field.
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)
