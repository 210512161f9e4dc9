package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/avezor/funnelboard/config"
	"github.com/avezor/funnelboard/internal/repositories/leadsource"
	"github.com/avezor/funnelboard/pkg/analytics"
	"github.com/avezor/funnelboard/pkg/bitrix"
	"github.com/avezor/funnelboard/pkg/database"
	"github.com/avezor/funnelboard/pkg/events"
	"github.com/avezor/funnelboard/pkg/funnel"
	"github.com/avezor/funnelboard/pkg/kafka"
	"github.com/avezor/funnelboard/pkg/server"
	"github.com/avezor/funnelboard/pkg/sources"
	"github.com/avezor/funnelboard/pkg/tracing"

	analyticsroutes "github.com/avezor/funnelboard/pkg/routes/analytics"
	"github.com/avezor/funnelboard/pkg/routes/health"
	sourceroutes "github.com/avezor/funnelboard/pkg/routes/sources"
	stageroutes "github.com/avezor/funnelboard/pkg/routes/stages"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing := tracing.Init(cfg.AppName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(db.DB, cfg.DatabaseMigrationFolderPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	tokens := bitrix.NewTokenManager(bitrix.TokenManagerConfig{
		OAuthURL:       cfg.BitrixOAuthURL,
		ClientID:       cfg.BitrixClientID,
		ClientSecret:   cfg.BitrixClientSecret,
		RefreshToken:   cfg.BitrixRefreshToken,
		ClientEndpoint: cfg.BitrixClientEndpoint,
		Timeout:        cfg.BitrixRequestTimeout,
	}, logger)

	crm := bitrix.NewClient(tokens, bitrix.ClientConfig{
		PageSize:           cfg.BitrixPageSize,
		MaxLeadOffset:      cfg.BitrixMaxLeadOffset,
		MaxDealOffset:      cfg.BitrixMaxDealOffset,
		ContactBatchSize:   cfg.BitrixContactBatchSize,
		ContactConcurrency: cfg.BitrixContactConcurrency,
		Timeout:            cfg.BitrixRequestTimeout,
	}, logger)

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
	}
	emitter := events.NewEmitter(producer, logger)

	repo := leadsource.NewRepository(db, logger)
	sourceService := sources.NewService(repo, crm, emitter, cfg.SourceCacheTTL, logger)

	table := funnel.NewStageTable()
	aggregator := funnel.NewAggregator(table, logger)
	linker := funnel.NewLinker(logger)

	analyticsService := analytics.NewService(crm, aggregator, linker, sourceService.Resolver(), emitter, analytics.Config{
		SalesCategoryID:        cfg.SalesCategoryID,
		SalesWonStageID:        cfg.SalesWonStageID,
		LowConversionThreshold: cfg.LowConversionThreshold,
		HighJunkThreshold:      cfg.HighJunkThreshold,
	}, logger)

	srv := server.New(server.Config{
		ServiceName:       cfg.AppName,
		Port:              cfg.Port,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		AllowOrigins:      cfg.AllowOrigins,
		AllowMethods:      cfg.AllowMethods,
	}, logger)

	checker := health.NewChecker(db, Version, logger)
	checker.Register(srv.Group("/health"))
	analyticsroutes.NewHandler(analyticsService, sourceService, logger).Register(srv.Group("/analytics"))
	sourceroutes.NewHandler(sourceService, logger).Register(srv.Group("/sources"))
	stageroutes.NewHandler(table).Register(srv.Group("/stages"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}
