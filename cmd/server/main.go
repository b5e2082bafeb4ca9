package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/veracity/internal/api"
	"github.com/Harshitk-cp/veracity/internal/buildconfig"
	"github.com/Harshitk-cp/veracity/internal/config"
	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/Harshitk-cp/veracity/internal/events"
	"github.com/Harshitk-cp/veracity/internal/metrics"
	"github.com/Harshitk-cp/veracity/internal/service"
	"github.com/Harshitk-cp/veracity/internal/store"
	"go.uber.org/zap"
)

func newLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if config.LogLevel() == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		if lvl, perr := zap.ParseAtomicLevel(config.LogLevel()); perr == nil {
			cfg.Level = lvl
		}
		logger, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	logger.Info("starting veracity",
		zap.String("version", buildconfig.Version()),
		zap.String("commit", buildconfig.Commit()))

	ctx := context.Background()

	backend, err := store.OpenBackend(ctx, store.BackendConfig{
		Kind:           config.StoreBackend(),
		DatabaseURL:    config.DatabaseURL(),
		MigrationsPath: config.MigrationsPath(),
		SQLitePath:     config.SQLitePath(),
		Submissions:    config.SubmissionBackend(),
		RedisAddr:      config.RedisAddr(),
		RedisPassword:  config.RedisPassword(),
		RedisDB:        config.RedisDB(),
	}, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer func() { _ = backend.Close() }()

	var profiles []domain.AlgorithmWeights
	if path := config.WeightsPath(); path != "" {
		profiles, err = service.LoadWeightsFile(path)
		if err != nil {
			logger.Fatal("failed to load weights", zap.String("path", path), zap.Error(err))
		}
		logger.Info("weights profiles loaded", zap.Int("profiles", len(profiles)))
	}

	checks := make(map[string]api.HealthCheck, len(backend.Checks)+1)
	for name, check := range backend.Checks {
		checks[name] = check
	}

	var publisher domain.EventPublisher
	if brokers := config.KafkaBrokers(); len(brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(brokers, config.KafkaTopic(), "veracity", logger)
		if err != nil {
			logger.Fatal("failed to create kafka publisher", zap.Error(err))
		}
		checks["kafka"] = kafka.Ping
		publisher = kafka
		logger.Info("publishing settlement events to kafka",
			zap.Strings("brokers", brokers),
			zap.String("topic", config.KafkaTopic()))
	} else {
		publisher = events.NewLogPublisher(logger)
	}
	defer func() { _ = publisher.Close() }()

	app := api.NewApp(api.Deps{
		Signals:     backend.Signals,
		Submissions: backend.Submissions,
		Settlements: backend.Settlements,
		Publisher:   publisher,
		Weights:     service.NewWeightsRegistry(profiles),
		Metrics:     metrics.NewCollector(buildconfig.Version(), buildconfig.Commit()),
		Scheduler: service.SchedulerConfig{
			Concurrency: config.SettlementConcurrency(),
			MaxRetries:  config.SettlementMaxRetries(),
			BaseDelay:   config.SettlementBaseDelay(),
			MaxDelay:    config.SettlementMaxDelay(),
			Timeout:     config.SettlementTimeout(),
		},
		Temperature:    config.BTSTemperature(),
		Priority:       config.SignalPriority(),
		APIKeys:        config.APIKeys(),
		RateLimitRPS:   config.RateLimitRPS(),
		RateLimitBurst: config.RateLimitBurst(),
		HealthChecks:   checks,
	}, logger)

	if len(config.APIKeys()) == 0 {
		logger.Warn("API_KEYS is empty, /v1 is unauthenticated")
	}

	// Start background services
	app.Scheduler.Start()

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// in-flight settlements are cancelled and stay pending for the next start
	app.Scheduler.Stop()
	app.Close()

	logger.Info("server stopped")
}
