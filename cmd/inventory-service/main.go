package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/medflow/stockledger/internal/inventory/cache"
	"github.com/medflow/stockledger/internal/inventory/consumers"
	"github.com/medflow/stockledger/internal/inventory/events"
	"github.com/medflow/stockledger/internal/inventory/handler"
	"github.com/medflow/stockledger/internal/inventory/repository"
	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/medflow/stockledger/internal/inventory/store"
	"github.com/medflow/stockledger/internal/inventory/store/memory"
	"github.com/medflow/stockledger/migrations"
	"github.com/medflow/stockledger/pkg/config"
	"github.com/medflow/stockledger/pkg/database"
	"github.com/medflow/stockledger/pkg/httputil"
	"github.com/medflow/stockledger/pkg/i18n"
	"github.com/medflow/stockledger/pkg/logger"
	"github.com/medflow/stockledger/pkg/messaging"
	"github.com/redis/go-redis/v9"
)

const serviceName = "inventory-service"

// idempotencyTTL bounds how long a processed treatment event ID is remembered
const idempotencyTTL = 72 * time.Hour

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("storage", cfg.Database.Driver).Msg("starting Inventory Service")

	health := map[string]func(ctx context.Context) interface{}{}

	// Storage
	var st store.Store
	switch cfg.Database.Driver {
	case config.DriverMemory:
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		st = memory.New()
	default:
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if cfg.Database.RunMigrations {
			if err := db.Migrate(migrations.FS); err != nil {
				log.Fatal().Err(err).Msg("failed to run migrations")
			}
		}
		st = repository.NewStore(db)
		health["database"] = func(ctx context.Context) interface{} { return db.Health(ctx) }
	}

	// Redis backs the stock level cache and treatment event deduplication
	var (
		stockCache  service.StockCache
		idempotency consumers.Idempotency
	)
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer client.Close()

		stockCache = cache.NewStockCache(client, cfg.Redis.StockTTL, log)
		idempotency = cache.NewIdempotencyStore(client, idempotencyTTL)
		health["redis"] = redisHealth(client)
	}

	// RabbitMQ
	var (
		rmq       *messaging.RabbitMQ
		publisher service.EventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		eventPublisher, err := events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		publisher = eventPublisher
		health["rabbitmq"] = func(context.Context) interface{} { return rmq.Health() }
	}

	// Services
	engine := service.NewEngine(st, publisher, stockCache, log, service.OptionsFromConfig(cfg.Inventory))
	catalogService := service.NewCatalogService(engine)
	ledgerService := service.NewLedgerService(engine)
	reservationService := service.NewReservationService(engine)
	countService := service.NewCountService(engine)
	alertScanner := service.NewAlertScanner(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if rmq != nil {
		rmq.Watch(ctx)

		treatmentConsumer, err := consumers.NewTreatmentEventConsumer(rmq, reservationService, idempotency, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create treatment event consumer")
		}
		if err := treatmentConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start treatment event consumer")
		}
	}

	scheduler := service.NewScheduler(st, reservationService, ledgerService, alertScanner,
		cfg.Inventory.Tenants, cfg.Inventory.SweepInterval, cfg.Inventory.AlertScanInterval, log)
	scheduler.Start(ctx)

	handlers := handler.NewHandlers(catalogService, ledgerService, reservationService, countService, alertScanner, log)

	// Create router
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(i18n.Middleware)
	r.Use(httputil.TenantMiddleware) // Extract tenant context from headers
	r.Use(httputil.ActorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "healthy",
			"service": serviceName,
			"storage": cfg.Database.Driver,
		}
		for name, check := range health {
			status[name] = check(r.Context())
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	r.Route("/api/v1/inventory", handlers.Routes)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop consumers and sweeps before the server so no new work is picked up
	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func redisHealth(client *redis.Client) func(ctx context.Context) interface{} {
	return func(ctx context.Context) interface{} {
		if err := client.Ping(ctx).Err(); err != nil {
			return map[string]string{"status": "unhealthy", "error": err.Error()}
		}
		return map[string]string{"status": "healthy"}
	}
}
