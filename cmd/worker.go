package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/farmgate/services/orders/config"
	"example.com/farmgate/services/orders/internal/cache"
	"example.com/farmgate/services/orders/internal/messaging"
	"example.com/farmgate/services/orders/internal/metrics"
	"example.com/farmgate/services/orders/internal/search"
	"example.com/farmgate/services/orders/internal/services"
	"example.com/farmgate/services/orders/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker running the overdue sweep and the search reindex fallback`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

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
		bus, err = messaging.NewServiceBusClient(cfg.Azure, "orders-worker")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Service Bus client, continuing without event publishing")
			bus = nil
		}
	}
	metricsCollector.SetHealth("servicebus", bus != nil)

	// Initialize services
	orderService := services.NewOrderService(db, readOnlyDB, redisCache, elasticClient, metricsCollector, tracer, bus)

	// Start the scheduled jobs
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Flag pending orders that have waited too long for approval
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.OverdueSweepInterval),
			gocron.NewTask(func() {
				flagged, err := orderService.SweepOverdue(ctx, cfg.Worker.OverdueAfter)
				if err != nil {
					log.Error().Err(err).Msg("Overdue sweep failed")
					return
				}
				log.Debug().Int("flagged", flagged).Msg("Overdue sweep finished")
			}),
		)
		if err != nil {
			return err
		}

		// Reindex recently updated orders to catch failed index writes
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.ReindexInterval),
			gocron.NewTask(func() {
				since := time.Now().Add(-cfg.Worker.ReindexLookback)
				if _, err := orderService.ReindexUpdated(ctx, since); err != nil {
					log.Error().Err(err).Msg("Reindex fallback failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		log.Info().
			Dur("overdue_sweep_interval", cfg.Worker.OverdueSweepInterval).
			Dur("reindex_interval", cfg.Worker.ReindexInterval).
			Msg("Starting worker scheduler")
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Error().Err(err).Msg("Service Bus shutdown error")
		}
	}
	tracer.Close()

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
