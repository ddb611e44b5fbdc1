package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	stripego "github.com/stripe/stripe-go/v82"

	"rental/internal/app"
	"rental/internal/config"
	"rental/internal/events"
	"rental/internal/gateway/stripe"
	"rental/internal/handler"
	"rental/internal/jobs"
	"rental/internal/lock"
	"rental/internal/logger"
	"rental/internal/metrics"
	internalRedis "rental/internal/redis"
	"rental/internal/regulatory"
	"rental/internal/repository/postgres"
	"rental/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.Init("info", "json")
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
		)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize New Relic")
			nrApp = nil
		} else {
			log.Info().Str("app", cfg.NewRelic.AppName).Msg("New Relic enabled")
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Str("host", cfg.Database.Host).Msg("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := wireServer(db, redisClient, nrApp, registry, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire server")
	}
	defer srv.close()

	srv.scheduler.Start()

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	srv.scheduler.Stop()
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info().Msg("server exited")
}

// server bundles the HTTP server with the resources it owns.
type server struct {
	http      *http.Server
	scheduler *jobs.Scheduler
	closers   []func() error
	log       zerolog.Logger
}

func (s *server) close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.log.Warn().Err(err).Msg("close failed")
		}
	}
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	registry *prometheus.Registry,
	cfg *config.Config,
	log zerolog.Logger,
) (*server, error) {
	m := metrics.New(registry)
	timeouts := app.NewTimeouts(cfg.Reservation)
	srv := &server{log: log}

	// Repositories.
	assetRepo := postgres.NewAssetRepository(db)
	reservationRepo := postgres.NewReservationRepository(db)
	contractRepo := postgres.NewContractRepository(db)
	paymentEventRepo := postgres.NewPaymentEventRepository(db)

	catalog := internalRedis.NewCatalogCache(redisClient, assetRepo, cfg.Reservation.CatalogCacheTTL, log)

	var locker lock.Locker
	switch cfg.Reservation.LockBackend {
	case "local":
		// Single-instance deployments only.
		locker = lock.NewLocalLocker()
	default:
		locker = internalRedis.NewLockStore(redisClient, cfg.Reservation.LockTTL, log)
	}

	// Outbound event streams.
	var (
		publisher service.Publisher
		loyalty   service.LoyaltyNotifier
	)
	if cfg.Kafka.Enabled {
		lifecycle := events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.LifecycleTopic), cfg.Kafka.LifecycleTopic, m)
		loyaltyNotifier := events.NewLoyaltyNotifier(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.LoyaltyTopic), cfg.Kafka.LoyaltyTopic, m, log)
		publisher, loyalty = lifecycle, loyaltyNotifier
		srv.closers = append(srv.closers, lifecycle.Close, loyaltyNotifier.Close)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("kafka publishing enabled")
	}

	// External systems.
	sc := stripego.NewClient(cfg.Stripe.SecretKey)
	paymentGateway := stripe.New(sc, cfg.Stripe.WebhookSecret, log)
	regulator := regulatory.New(cfg.Regulatory.BaseURL, cfg.Regulatory.APIKey, log)

	// Pricing.
	calculator, err := app.NewCalculator(cfg.Pricing)
	if err != nil {
		return nil, err
	}
	surge, err := app.NewSurgePolicy(cfg.Pricing.Surge, reservationRepo, timeouts, log)
	if err != nil {
		return nil, err
	}

	// Services.
	notifications := service.NewNotificationService(publisher, log)
	contractService := service.NewContractService(service.ContractDeps{
		Contracts:     contractRepo,
		Reservations:  reservationRepo,
		Locker:        locker,
		Regulatory:    regulator,
		Notifications: notifications,
		Metrics:       m,
		Timeouts:      timeouts,
		Log:           log,
	})
	reservationService := service.NewReservationService(service.ReservationDeps{
		Reservations:  reservationRepo,
		Catalog:       catalog,
		Locker:        locker,
		Pricing:       calculator,
		Surge:         surge,
		Contracts:     contractService,
		Loyalty:       loyalty,
		Notifications: notifications,
		Metrics:       m,
		Timeouts:      timeouts,
		Log:           log,
	})
	paymentReconciler := service.NewPaymentReconciler(service.PaymentDeps{
		Events:        paymentEventRepo,
		Reservations:  reservationService,
		Gateway:       paymentGateway,
		Refunds:       paymentGateway,
		Currency:      cfg.Stripe.Currency,
		Notifications: notifications,
		Metrics:       m,
		Timeouts:      timeouts,
		Log:           log,
	})

	scheduler, err := jobs.NewScheduler(cfg.Jobs.ContractPollSpec, contractService, 5*time.Minute, log)
	if err != nil {
		return nil, err
	}
	srv.scheduler = scheduler

	// Handlers.
	if err := handler.RegisterValidators(); err != nil {
		return nil, err
	}
	router := app.NewRouter(app.RouterDeps{
		ReservationHandler: handler.NewReservationHandler(reservationService),
		ContractHandler:    handler.NewContractHandler(contractService),
		PaymentHandler:     handler.NewPaymentHandler(paymentReconciler, paymentGateway, log),
		RedisClient:        redisClient,
		Gatherer:           registry,
		CORSOrigins:        cfg.Server.CORSOrigins,
		NewRelicApp:        nrApp,
		Log:                log,
	})

	srv.http = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return srv, nil
}
