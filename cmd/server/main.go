package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scanguard/internal/alerts"
	"scanguard/internal/api"
	"scanguard/internal/config"
	"scanguard/internal/counter"
	"scanguard/internal/engine"
	"scanguard/internal/limiter"
	"scanguard/internal/logging"
	"scanguard/internal/loyalty"
	"scanguard/internal/notify"
	"scanguard/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("SCANGUARD_CONFIG"), "path to config file (yaml or json)")
	flag.Parse()

	cfgManager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	counters, err := initCounter(cfg)
	if err != nil {
		log.Fatalf("failed to init counter store: %v", err)
	}
	defer counters.Close()
	logger.Info("counter store ready", "backend", cfg.Counter.Backend)

	ipLimiter := limiter.New(counters, limiterConfig(cfg), logger)
	eng := engine.New(counters, cfg, logger)
	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	ledger := loyalty.NewLedger(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.Init(initCtx); err != nil {
			cancel()
			log.Fatalf("failed to init storage schema: %v", err)
		}
		cancel()
		defer store.Close()
		logger.Info("storage ready", "driver", cfg.Storage.Driver)
	}

	var persister alerts.Persister
	if store != nil {
		persister = store
	}
	var publisher alerts.Publisher
	if p := notify.NewKafkaPublisher(cfg.Notify.Kafka, logger); p != nil {
		publisher = p
		defer p.Close()
	}

	recorder := alerts.NewRecorder(alertStore, persister, publisher, cfg.Alerts.QueueBuffer, logger)
	recorder.Start(ctx)

	server := api.NewServer(cfgManager, ipLimiter, eng, recorder, alertStore, ledger, store, logger, version)
	api.Start(ctx, server)

	if cfgManager.Path() != "" {
		go cfgManager.Watch(3*time.Second,
			func(next *config.Config) {
				eng.UpdateConfig(next)
				ipLimiter.UpdateConfig(limiterConfig(next))
				logger.Info("config reloaded", "path", cfgManager.Path())
			},
			func(err error) {
				logger.Error("config reload failed", "err", err)
			},
			ctx.Done(),
		)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	recorder.Wait()
	logger.Info("shutdown complete")
}

func initCounter(cfg *config.Config) (counter.Store, error) {
	if cfg.Counter.Backend == "redis" {
		return counter.NewRedisStore(counter.RedisConfig{
			Addr:     cfg.Counter.Redis.Addr,
			Password: cfg.Counter.Redis.Password,
			DB:       cfg.Counter.Redis.DB,
		})
	}
	return counter.NewMemoryStore(), nil
}

func limiterConfig(cfg *config.Config) limiter.Config {
	return limiter.Config{
		Requests:   cfg.Limiter.Requests,
		Window:     cfg.Limiter.Window,
		FailMode:   limiter.FailMode(cfg.Limiter.FailMode),
		TrustedIPs: cfg.Exemptions.TrustedIPs,
	}
}
