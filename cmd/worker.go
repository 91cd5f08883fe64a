package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/urban/services/attendance/config"
	"example.com/urban/services/attendance/internal/authority"
	"example.com/urban/services/attendance/internal/cache"
	"example.com/urban/services/attendance/internal/messaging"
	"example.com/urban/services/attendance/internal/metrics"
	"example.com/urban/services/attendance/internal/repositories"
	"example.com/urban/services/attendance/internal/search"
	"example.com/urban/services/attendance/internal/services"
	"example.com/urban/services/attendance/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to pre-render display codes, consume kiosk scans from Azure Service Bus and reconcile the ledger`,
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

	// Initialize database
	db, err := initDatabase(cfg)
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

	// Initialize repositories and services
	userRepo := repositories.NewUserRepository(db)
	redemptionRepo := repositories.NewRedemptionRepository(db)
	purchaseRepo := repositories.NewPurchaseRepository(db)

	attendanceService := services.NewAttendanceService(
		authority.New(),
		repositories.NewEventRepository(db),
		userRepo,
		redemptionRepo,
		redisCache,
		elasticClient,
		metricsCollector,
		tracer,
	)
	reconciler := services.NewLedgerReconciler(userRepo, redemptionRepo, purchaseRepo, metricsCollector)

	// Initialize Azure Service Bus client
	azureBus, err := messaging.NewAzureServiceBus(cfg.Azure)
	if err != nil {
		return err
	}
	defer azureBus.Close()

	// Start the service bus processor for kiosk scans
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting Azure Service Bus processor")
		return azureBus.ProcessMessages(ctx, attendanceService.ProcessScanMessage)
	})

	// Start the periodic jobs: display code refresh and ledger reconciliation
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Pre-render codes ahead of displays polling for them
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.CodeRefreshInterval),
			gocron.NewTask(func() {
				if err := attendanceService.RefreshDisplayCodes(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to refresh display codes")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Fallback check that stored balances still match the ledger
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.ReconcileInterval),
			gocron.NewTask(func() {
				log.Info().Msg("Running ledger reconciliation job")
				if err := reconciler.Reconcile(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile ledger")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
