package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Email       EmailConfig       `mapstructure:"email"`
	Application ApplicationConfig `mapstructure:"application"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
}

type ServerConfig struct {
	Environment     string        `mapstructure:"environment"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend. sqlite runs on a single connection: a delivery
// worker holds it for a whole send, so HTTP requests queue behind email sends when workers share
// the process. Embedded workers therefore default to off for sqlite.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, mysql or sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	DevMode    bool          `mapstructure:"dev_mode"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

type IdempotencyConfig struct {
	MaxKeyLength   int           `mapstructure:"max_key_length"`
	InFlightPolicy string        `mapstructure:"in_flight_policy"` // wait or fail_fast
	InFlightWait   time.Duration `mapstructure:"in_flight_wait"`
	InFlightPoll   time.Duration `mapstructure:"in_flight_poll"`
}

type DeliveryConfig struct {
	Workers           int           `mapstructure:"workers"`
	Embedded          bool          `mapstructure:"embedded"` // default: true unless database.driver is sqlite
	IdleInterval      time.Duration `mapstructure:"idle_interval"`
	ErrorInterval     time.Duration `mapstructure:"error_interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	SendRatePerSecond float64       `mapstructure:"send_rate_per_second"`
}

type EmailConfig struct {
	Provider           string        `mapstructure:"provider"` // postmark or log
	BaseURL            string        `mapstructure:"base_url"`
	Sender             string        `mapstructure:"sender"`
	AuthorizationToken string        `mapstructure:"authorization_token"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type ApplicationConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Keys without a meaningful default are still registered so AutomaticEnv can fill them on Unmarshal.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.dev_mode", false)
	v.SetDefault("auth.issuer", "newsletter")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("ratelimit.requests_per_second", 5)

	v.SetDefault("idempotency.max_key_length", 64)
	v.SetDefault("idempotency.in_flight_policy", "wait")
	v.SetDefault("idempotency.in_flight_wait", 5*time.Second)
	v.SetDefault("idempotency.in_flight_poll", 100*time.Millisecond)

	v.SetDefault("delivery.workers", 2)
	v.SetDefault("delivery.idle_interval", 10*time.Second)
	v.SetDefault("delivery.error_interval", time.Second)
	v.SetDefault("delivery.max_retries", 5)
	v.SetDefault("delivery.base_backoff", 30*time.Second)
	v.SetDefault("delivery.max_backoff", 30*time.Minute)
	v.SetDefault("delivery.send_timeout", 10*time.Second)
	v.SetDefault("delivery.send_rate_per_second", 0.0)

	v.SetDefault("email.provider", "log")
	v.SetDefault("email.base_url", "https://api.postmarkapp.com")
	v.SetDefault("email.timeout", 10*time.Second)
	v.SetDefault("email.sender", "")
	v.SetDefault("email.authorization_token", "")

	v.SetDefault("application.base_url", "http://localhost:8080")
	v.SetDefault("monitor.interval", 30*time.Second)
}

// Load reads config.yaml (if any), a .env file (if any) and NEWSLETTER_* environment variables.
// An explicit path overrides the search in . and ./config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// no default, so IsSet tells an explicit choice apart
	_ = v.BindEnv("delivery.embedded")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !v.IsSet("delivery.embedded") {
		cfg.Delivery.Embedded = cfg.Database.Driver != "sqlite"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	switch c.Idempotency.InFlightPolicy {
	case "wait", "fail_fast":
	default:
		return fmt.Errorf("unsupported idempotency.in_flight_policy %q", c.Idempotency.InFlightPolicy)
	}
	if c.Delivery.MaxRetries < 0 {
		return errors.New("delivery.max_retries must not be negative")
	}
	if c.Delivery.MaxBackoff < c.Delivery.BaseBackoff {
		return errors.New("delivery.max_backoff must be >= delivery.base_backoff")
	}
	switch c.Email.Provider {
	case "log":
	case "postmark":
		if c.Email.Sender == "" || c.Email.AuthorizationToken == "" {
			return errors.New("email.sender and email.authorization_token are required for postmark")
		}
	default:
		return fmt.Errorf("unsupported email.provider %q", c.Email.Provider)
	}
	return nil
}
