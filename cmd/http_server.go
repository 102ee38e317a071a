package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/pix-payments/internal"
	"github.com/frahmantamala/pix-payments/internal/core/events"
	"github.com/frahmantamala/pix-payments/internal/payment"
	"github.com/frahmantamala/pix-payments/internal/paymentgateway"
	"github.com/frahmantamala/pix-payments/internal/transport"
	"github.com/frahmantamala/pix-payments/internal/transport/middleware"
	"github.com/frahmantamala/pix-payments/internal/transport/rest"
	"github.com/frahmantamala/pix-payments/internal/transport/swagger"
	"github.com/frahmantamala/pix-payments/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that creates payments and receives processor notifications`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	Store      *storeBackend
	EventBus   *events.EventBus
	KafkaSink  *events.KafkaSink
	Reconciler *payment.Reconciler
	Registry   *prometheus.Registry
	Router     *chi.Mux
	Logger     *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server",
		"address", addr,
		"store", deps.Config.Store.Driver,
		"webhook_url", deps.Config.Payment.WebhookURL)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := internal.WithTimeout(context.Background(), deps.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			deps.close()
			os.Exit(1)
		}
	}

	deps.close()
	deps.Logger.Info("Server stopped")
}

// close stops the bus before releasing the sink and the store.
func (d *Dependencies) close() {
	d.EventBus.Close()
	if d.KafkaSink != nil {
		if err := d.KafkaSink.Close(); err != nil {
			d.Logger.Error("Kafka writer close error", "error", err)
		}
	}
	d.Store.Close()
}

func setupRoutes(deps *Dependencies) {
	cfg := deps.Config

	paymentHandler := payment.NewHandler(deps.Reconciler, deps.Logger)
	webhookHandler := payment.NewWebhookHandler(transport.NewBaseHandler(deps.Logger), deps.Reconciler, deps.Logger)

	opts := rest.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		HealthChecks:   deps.Store.Checks,
	}
	if cfg.RateLimit.Enabled {
		opts.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Observability.Metrics.Enabled {
		opts.HTTPMetrics = middleware.NewHTTPMetrics(deps.Registry)
		opts.MetricsPath = cfg.Observability.Metrics.Path
		opts.Gatherer = deps.Registry
	}

	rest.RegisterAllRoutes(deps.Router, paymentHandler, webhookHandler, opts, deps.Logger)
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	log := logger.LoggerWrapper()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	startupCtx, cancel := internal.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := swagger.Load(startupCtx); err != nil {
		return nil, err
	}

	token, err := resolveAccessToken(startupCtx, config)
	if err != nil {
		return nil, err
	}

	store, err := openStore(startupCtx, config.Store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payment store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eventBus := events.NewEventBus(log)
	var kafkaSink *events.KafkaSink
	var sink events.Handler
	if config.Events.Kafka.Enabled() {
		kafkaSink = events.NewKafkaSink(events.NewKafkaWriter(config.Events.Kafka.Brokers, config.Events.Kafka.Topic), log)
		sink = kafkaSink.Handle
		log.Info("publishing payment status changes to kafka", "topic", config.Events.Kafka.Topic)
	}
	payment.NewEventHandler(sink, log).RegisterEventHandlers(eventBus)

	gateway := paymentgateway.NewClient(paymentgateway.Config{
		APIURL:         config.Payment.APIURL,
		AccessToken:    token,
		PaymentTimeout: config.Payment.Timeout,
	}, log)

	reconciler := payment.NewReconciler(gateway, store.Store, eventBus, payment.NewMetrics(registry), payment.Config{
		WebhookURL:         config.Payment.WebhookURL,
		DefaultDescription: config.Payment.DefaultDescription,
	}, log)

	return &Dependencies{
		Config:     config,
		Store:      store,
		EventBus:   eventBus,
		KafkaSink:  kafkaSink,
		Reconciler: reconciler,
		Registry:   registry,
		Router:     chi.NewRouter(),
		Logger:     log,
	}, nil
}
