package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "github.com/lib/pq"

	"github.com/Volteec/VolteecBackend/internal/bus"
	"github.com/Volteec/VolteecBackend/internal/config"
	"github.com/Volteec/VolteecBackend/internal/crypto"
	httpapi "github.com/Volteec/VolteecBackend/internal/http"
	"github.com/Volteec/VolteecBackend/internal/mqttbridge"
	"github.com/Volteec/VolteecBackend/internal/nut"
	"github.com/Volteec/VolteecBackend/internal/poller"
	"github.com/Volteec/VolteecBackend/internal/relay"
	"github.com/Volteec/VolteecBackend/internal/repository"
	"github.com/Volteec/VolteecBackend/internal/service"
	"github.com/Volteec/VolteecBackend/internal/sse"
	"github.com/Volteec/VolteecBackend/internal/store"
	"github.com/Volteec/VolteecBackend/internal/updatecheck"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.APIToken == "" {
		logger.Warn("API_TOKEN not set: running degraded, /v1 routes disabled")
	}
	if cfg.DeviceTokenKey == nil {
		logger.Fatal("DEVICE_TOKEN_KEY is required")
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}
	if err := repository.Migrate(context.Background(), db); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	cipher, err := crypto.NewTokenCipher(cfg.DeviceTokenKey)
	if err != nil {
		logger.Fatal("invalid device token key", zap.Error(err))
	}

	upsRepo := repository.NewPostgresUPSRepo(db, logger)
	devicesRepo := repository.NewPostgresDevicesRepo(db, logger)
	eventBus := bus.New(logger)

	var relayClient *relay.Client
	if cfg.Relay != nil {
		relayClient = relay.NewClient(*cfg.Relay, logger)
		logger.Info("relay configured", zap.String("base_url", cfg.Relay.BaseURL))
	} else {
		logger.Warn("relay not configured: push notifications disabled")
	}

	var mirror store.SnapshotMirror
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		mirror = store.NewRedisMirror(redisClient)
		logger.Info("redis snapshot mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Broker != "" {
		bridge, err = mqttbridge.Connect(cfg.MQTT, eventBus, logger)
		if err != nil {
			logger.Warn("mqtt bridge disabled", zap.Error(err))
		}
	}

	var checker *updatecheck.Checker
	if cfg.Relay != nil {
		var notifier updatecheck.Notifier
		if relayClient != nil {
			notifier = relayClient
		}
		checker = updatecheck.NewChecker(cfg.Relay.BaseURL, httpapi.ProtocolVersion, notifier, devicesRepo, logger)
		go checker.Run(ctx)
	}

	nutClient := nut.NewClient(cfg.NUT.Host, cfg.NUT.Port, cfg.NUT.Username, cfg.NUT.Password, logger)
	var relaySender poller.RelaySender
	if relayClient != nil {
		relaySender = relayClient
	}
	p := poller.New(cfg.NUT, nutClient, upsRepo, eventBus, relaySender, mirror, logger)
	go p.Run(ctx)

	api := httpapi.NewAPI(upsRepo, devicesRepo, cipher, db, httpapi.Options{
		Relay:       relayClient,
		Checker:     checker,
		Environment: cfg.Environment,
		Degraded:    cfg.APIToken == "",
	}, logger)
	events := sse.NewHandler(eventBus, upsRepo, sse.NewGlobalLimiter(), logger)
	router := httpapi.NewRouter(api, events, cfg.APIToken)

	srv := service.NewServer(cfg.HTTPAddr, router, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("HTTP server exited", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if bridge != nil {
		bridge.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
