package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverRedis    = "redis"
	StoreDriverDynamoDB = "dynamodb"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Store         StoreConfig         `mapstructure:"store"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Events        EventsConfig        `mapstructure:"events"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type PaymentConfig struct {
	APIURL string `mapstructure:"api_url"`
	// AccessToken is the processor credential. When empty it is resolved from
	// AccessTokenSecret through AWS Secrets Manager at startup.
	AccessToken        string        `mapstructure:"access_token"`
	AccessTokenSecret  string        `mapstructure:"access_token_secret"`
	WebhookURL         string        `mapstructure:"webhook_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	DefaultDescription string        `mapstructure:"default_description"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EventsConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the configuration for container deployments where no
// config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 3000),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:   getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", StoreDriverMemory),
			Database: DatabaseConfig{
				MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
				MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
				ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
				ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
				Source:          getEnv("DATABASE_URL", ""),
			},
			Redis: RedisConfig{
				URL:       getEnv("REDIS_URL", ""),
				KeyPrefix: getEnv("REDIS_KEY_PREFIX", "payment:"),
			},
			DynamoDB: DynamoDBConfig{
				Table:    getEnv("DYNAMODB_TABLE", "payments"),
				Region:   getEnv("AWS_REGION", ""),
				Endpoint: getEnv("DYNAMODB_ENDPOINT", ""),
			},
		},
		Payment: PaymentConfig{
			APIURL:             getEnv("MERCADO_PAGO_API_URL", "https://api.mercadopago.com"),
			AccessToken:        getEnv("MERCADO_PAGO_TOKEN", ""),
			AccessTokenSecret:  getEnv("MERCADO_PAGO_TOKEN_SECRET", ""),
			WebhookURL:         getEnv("WEBHOOK_URL", ""),
			Timeout:            getEnvAsDuration("PAYMENT_TIMEOUT", 10*time.Second),
			DefaultDescription: getEnv("PAYMENT_DEFAULT_DESCRIPTION", "Inscrição para o evento/curso"),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("METRICS_ENABLED", "true") == "true",
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Brokers: splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
				Topic:   getEnv("KAFKA_TOPIC", "payment-status"),
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnv("RATE_LIMIT_ENABLED", "true") == "true",
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("store config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.RateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("rate limit config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

// ValidatePersistent rejects drivers whose records do not outlive the process.
// One-shot commands that write to the store call it before doing any work.
func (c *StoreConfig) ValidatePersistent() error {
	if c.Driver == "" || c.Driver == StoreDriverMemory {
		return errors.New("store.driver must be persistent; memory records are lost when the command exits")
	}
	return c.Validate()
}

func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case "", StoreDriverMemory:
		return nil
	case StoreDriverPostgres, StoreDriverSQLite:
		return c.Database.Validate()
	case StoreDriverRedis:
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis driver")
		}
		return nil
	case StoreDriverDynamoDB:
		if c.DynamoDB.Table == "" {
			return errors.New("dynamodb.table is required for the dynamodb driver")
		}
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("database.source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *PaymentConfig) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	if _, err := url.ParseRequestURI(c.APIURL); err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if c.WebhookURL == "" {
		return errors.New("webhook_url is required")
	}
	u, err := url.ParseRequestURI(c.WebhookURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook_url %q", c.WebhookURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// HasCredential reports whether a processor credential can be resolved.
func (c *PaymentConfig) HasCredential() bool {
	return c.AccessToken != "" || c.AccessTokenSecret != ""
}

func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequestsPerSecond <= 0 {
		return errors.New("requests_per_second must be positive")
	}
	if c.Burst <= 0 {
		return errors.New("burst must be positive")
	}
	return nil
}
