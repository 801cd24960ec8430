package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"example.com/farmgate/services/orders/config"
	"example.com/farmgate/services/orders/internal/api"
	"example.com/farmgate/services/orders/internal/cache"
	"example.com/farmgate/services/orders/internal/database"
	"example.com/farmgate/services/orders/internal/messaging"
	"example.com/farmgate/services/orders/internal/metrics"
	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/repositories"
	"example.com/farmgate/services/orders/internal/search"
	"example.com/farmgate/services/orders/internal/services"
	"example.com/farmgate/services/orders/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for the order approval workflow`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()
	metricsCollector.SetHealth("database", true)
	metricsCollector.SetHealth("redis", redisCache != nil && cfg.Redis.Enabled)
	metricsCollector.SetHealth("elasticsearch", elasticClient != nil)

	// Initialize the event bus, optional in development
	var bus messaging.ServiceBusClient
	if cfg.Azure.QueueConnStr != "" {
		bus, err = messaging.NewServiceBusClient(cfg.Azure, "orders-api")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Service Bus client, continuing without event publishing")
			bus = nil
		}
	}
	metricsCollector.SetHealth("servicebus", bus != nil)

	// Initialize services
	orderService := services.NewOrderService(db, readOnlyDB, redisCache, elasticClient, metricsCollector, tracer, bus)
	userRepo := repositories.NewUserRepository(db, readOnlyDB)

	// Initialize and start the server
	server := api.NewServer(cfg, orderService, userRepo, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Error().Err(err).Msg("Service Bus shutdown error")
		}
	}
	tracer.Close()

	log.Info().Msg("Shutting down API server")
	return nil
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	// Initialize write database
	writeDB, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}
	db, err := writeDB.DB()
	if err != nil {
		return nil, nil, err
	}

	// Initialize read-only database
	readDB, err := database.ConnectReadOnly(cfg.DB)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}
	readOnlyDB, err := readDB.DB()
	if err != nil {
		return nil, nil, err
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	return db, readOnlyDB, nil
}
