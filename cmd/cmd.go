package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frahmantamala/pix-payments/internal"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pix-payments",
	Short: "PIX Payments",
	Long:  `Creates PIX and card charges through Mercado Pago and reconciles their status from webhook notifications.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads config.yml from path when present and otherwise falls back
// to plain environment variables. A .env file is loaded first either way.
// Callers validate the sections they use.
func loadConfig(path string) (*internal.Config, error) {
	_ = godotenv.Load()

	if os.Getenv("APP_ENV") == "production" || os.Getenv("DOCKER_ENV") == "true" {
		return internal.LoadConfigFromEnv(), nil
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, internal.LoadConfigFromEnv())

	// well-known variable names the hosting platforms set
	_ = v.BindEnv("http_server.port", "ENV_HTTP_SERVER_PORT", "PORT")
	_ = v.BindEnv("payment.access_token", "ENV_PAYMENT_ACCESS_TOKEN", "MERCADO_PAGO_TOKEN")
	_ = v.BindEnv("payment.webhook_url", "ENV_PAYMENT_WEBHOOK_URL", "WEBHOOK_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that the
// config file leaves out.
func setDefaults(v *viper.Viper, d *internal.Config) {
	v.SetDefault("http_server.port", d.Server.Port)
	v.SetDefault("http_server.base_url", d.Server.BaseURL)
	v.SetDefault("http_server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("http_server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("http_server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("http_server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("http_server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("http_server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.database.max_open_conns", d.Store.Database.MaxOpenConns)
	v.SetDefault("store.database.max_idle_conns", d.Store.Database.MaxIdleConns)
	v.SetDefault("store.database.conn_max_lifetime", d.Store.Database.ConnMaxLifetime)
	v.SetDefault("store.database.conn_max_idle_time", d.Store.Database.ConnMaxIdleTime)
	v.SetDefault("store.database.source", d.Store.Database.Source)
	v.SetDefault("store.redis.url", d.Store.Redis.URL)
	v.SetDefault("store.redis.key_prefix", d.Store.Redis.KeyPrefix)
	v.SetDefault("store.dynamodb.table", d.Store.DynamoDB.Table)
	v.SetDefault("store.dynamodb.region", d.Store.DynamoDB.Region)
	v.SetDefault("store.dynamodb.endpoint", d.Store.DynamoDB.Endpoint)

	v.SetDefault("payment.api_url", d.Payment.APIURL)
	v.SetDefault("payment.access_token", d.Payment.AccessToken)
	v.SetDefault("payment.access_token_secret", d.Payment.AccessTokenSecret)
	v.SetDefault("payment.webhook_url", d.Payment.WebhookURL)
	v.SetDefault("payment.timeout", d.Payment.Timeout)
	v.SetDefault("payment.default_description", d.Payment.DefaultDescription)

	v.SetDefault("observability.metrics.enabled", d.Observability.Metrics.Enabled)
	v.SetDefault("observability.metrics.path", d.Observability.Metrics.Path)
	v.SetDefault("observability.logging.level", d.Observability.Logging.Level)
	v.SetDefault("observability.logging.format", d.Observability.Logging.Format)

	v.SetDefault("events.kafka.brokers", d.Events.Kafka.Brokers)
	v.SetDefault("events.kafka.topic", d.Events.Kafka.Topic)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory holding config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(gatewayCmd)
}
