package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Migration MigrationConfig `mapstructure:"migration"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Polling   PollingConfig   `mapstructure:"polling"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

func (c ServerConfig) Development() bool {
	return c.Env == "development"
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Exchange string `mapstructure:"exchange"`
}

type MigrationConfig struct {
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	Dir         string `mapstructure:"dir"`
}

type JWTConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
}

type PollingConfig struct {
	TallyCacheTTL    time.Duration `mapstructure:"tally_cache_ttl"`
	PublishRetries   uint          `mapstructure:"publish_retries"`
	PublishDelay     time.Duration `mapstructure:"publish_delay"`
	ConflictAttempts uint          `mapstructure:"conflict_attempts"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
	Burst  int           `mapstructure:"burst"`
}

// Load reads configuration from the optional YAML file, a .env file and the
// GATHER_* environment, in increasing precedence.
func Load(configFile string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := bindEnvs(v); err != nil {
		return nil, fmt.Errorf("bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports the variables of path without overriding the real
// environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("rabbitmq.enabled", true)
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.exchange", "gather_events")
	v.SetDefault("migration.auto_migrate", false)
	v.SetDefault("migration.dir", "migrations")
	v.SetDefault("jwt.token_duration", 24*time.Hour)
	v.SetDefault("polling.tally_cache_ttl", 10*time.Minute)
	v.SetDefault("polling.publish_retries", 3)
	v.SetDefault("polling.publish_delay", 100*time.Millisecond)
	v.SetDefault("polling.conflict_attempts", 3)
	v.SetDefault("rate_limit.limit", 120)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.burst", 20)
}

func bindEnvs(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":               "GATHER_SERVER_PORT",
		"server.env":                "GATHER_SERVER_ENV",
		"storage.driver":            "GATHER_STORAGE_DRIVER",
		"postgres.host":             "GATHER_POSTGRES_HOST",
		"postgres.port":             "GATHER_POSTGRES_PORT",
		"postgres.user":             "GATHER_POSTGRES_USER",
		"postgres.password":         "GATHER_POSTGRES_PASSWORD",
		"postgres.dbname":           "GATHER_POSTGRES_DBNAME",
		"postgres.sslmode":          "GATHER_POSTGRES_SSLMODE",
		"redis.enabled":             "GATHER_REDIS_ENABLED",
		"redis.host":                "GATHER_REDIS_HOST",
		"redis.port":                "GATHER_REDIS_PORT",
		"redis.password":            "GATHER_REDIS_PASSWORD",
		"redis.db":                  "GATHER_REDIS_DB",
		"rabbitmq.enabled":          "GATHER_RABBITMQ_ENABLED",
		"rabbitmq.host":             "GATHER_RABBITMQ_HOST",
		"rabbitmq.port":             "GATHER_RABBITMQ_PORT",
		"rabbitmq.user":             "GATHER_RABBITMQ_USER",
		"rabbitmq.password":         "GATHER_RABBITMQ_PASSWORD",
		"rabbitmq.vhost":            "GATHER_RABBITMQ_VHOST",
		"rabbitmq.exchange":         "GATHER_RABBITMQ_EXCHANGE",
		"migration.auto_migrate":    "GATHER_MIGRATION_AUTO_MIGRATE",
		"migration.dir":             "GATHER_MIGRATION_DIR",
		"jwt.secret_key":            "GATHER_JWT_SECRET_KEY",
		"jwt.token_duration":        "GATHER_JWT_TOKEN_DURATION",
		"polling.tally_cache_ttl":   "GATHER_POLLING_TALLY_CACHE_TTL",
		"polling.publish_retries":   "GATHER_POLLING_PUBLISH_RETRIES",
		"polling.publish_delay":     "GATHER_POLLING_PUBLISH_DELAY",
		"polling.conflict_attempts": "GATHER_POLLING_CONFLICT_ATTEMPTS",
		"rate_limit.limit":          "GATHER_RATE_LIMIT_LIMIT",
		"rate_limit.window":         "GATHER_RATE_LIMIT_WINDOW",
		"rate_limit.burst":          "GATHER_RATE_LIMIT_BURST",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be greater than 0")
	}
	if cfg.Server.Env == "" {
		return fmt.Errorf("server.env is required")
	}

	switch cfg.Storage.Driver {
	case DriverPostgres:
		if cfg.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}
		if cfg.Postgres.Port <= 0 {
			return fmt.Errorf("postgres.port must be greater than 0")
		}
		if cfg.Postgres.User == "" {
			return fmt.Errorf("postgres.user is required")
		}
		if cfg.Postgres.DBName == "" {
			return fmt.Errorf("postgres.dbname is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.Storage.Driver)
	}

	if cfg.Redis.Enabled {
		if cfg.Redis.Host == "" {
			return fmt.Errorf("redis.host is required")
		}
		if cfg.Redis.Port <= 0 {
			return fmt.Errorf("redis.port must be greater than 0")
		}
	}

	if cfg.RabbitMQ.Enabled {
		if cfg.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq.host is required")
		}
		if cfg.RabbitMQ.Port <= 0 {
			return fmt.Errorf("rabbitmq.port must be greater than 0")
		}
		if cfg.RabbitMQ.User == "" {
			return fmt.Errorf("rabbitmq.user is required")
		}
		if cfg.RabbitMQ.Exchange == "" {
			return fmt.Errorf("rabbitmq.exchange is required")
		}
	}

	if cfg.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if cfg.JWT.TokenDuration <= 0 {
		return fmt.Errorf("jwt.token_duration must be greater than 0")
	}

	if cfg.Polling.TallyCacheTTL <= 0 {
		return fmt.Errorf("polling.tally_cache_ttl must be greater than 0")
	}
	if cfg.Polling.PublishRetries == 0 {
		return fmt.Errorf("polling.publish_retries must be at least 1")
	}

	return nil
}
