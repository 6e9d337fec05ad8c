package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PickupBox/config"
	packagesapi "github.com/BearBump/PickupBox/internal/api/packages_api"
	"github.com/BearBump/PickupBox/internal/broker/kafka"
	"github.com/BearBump/PickupBox/internal/cache/rediscache"
	"github.com/BearBump/PickupBox/internal/extractor"
	"github.com/BearBump/PickupBox/internal/logging"
	"github.com/BearBump/PickupBox/internal/metrics"
	"github.com/BearBump/PickupBox/internal/services/packages"
	"github.com/BearBump/PickupBox/internal/services/sessions"
	"github.com/BearBump/PickupBox/internal/storage/pgpackages"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type pickupAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   pickupAPIOpts

	api      *packagesapi.PackagesAPI
	registry *prometheus.Registry
	logger   *zap.Logger

	closers []func()
}

func mustBootstrapPickupAPI() *pickupAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		panic(err)
	}

	httpAddr := cfg.PickupBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	grpcAddr := cfg.PickupBox.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}

	app := &pickupAPIApp{
		registry: reg,
		logger:   logger,
		opts: pickupAPIOpts{
			grpcAddr:      grpcAddr,
			httpAddr:      httpAddr,
			swaggerPath:   os.Getenv("swaggerPath"),
			readyInterval: 10 * time.Second,
		},
	}
	app.closers = append(app.closers, func() { _ = logger.Sync() })

	backend := app.mustBuildBackend(cfg, m)
	app.api = packagesapi.New(backend).WithMetrics(m).WithLogger(logger.Named("http"))

	if cfg.Redis.Enabled() && cfg.PickupBox.RateLimitPerMinute > 0 {
		rl := rediscache.NewRateLimiter(cfg.Redis.Addr())
		app.closers = append(app.closers, func() { _ = rl.Close() })
		app.api.WithRateLimiter(rl, int64(cfg.PickupBox.RateLimitPerMinute))
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return app
}

func (a *pickupAPIApp) mustBuildBackend(cfg *config.Config, m *metrics.Metrics) packagesapi.Backend {
	ex := extractor.Default()
	svcLogger := a.logger.Named("packages")

	switch cfg.PickupBox.StoreMode {
	case config.StoreModeSession:
		if !cfg.Redis.Enabled() {
			panic("store_mode session requires redis")
		}
		rc := rediscache.New(cfg.Redis.Addr())
		a.closers = append(a.closers, func() { _ = rc.Close() })

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			a.logger.Warn("redis is not reachable yet", zap.Error(err))
		}
		cancel()

		ttl := time.Duration(cfg.PickupBox.SessionTTLSeconds) * time.Second
		mgr := sessions.New(rc, ttl).WithLocker(rc)
		a.opts.ready = rc.Ping
		a.logger.Info("store mode: session", zap.String("redis", cfg.Redis.Addr()))

		return packagesapi.NewSessionBackend(mgr, func(st packages.Store) *packages.Service {
			return packages.New(st, ex).WithMetrics(m).WithLogger(svcLogger)
		})

	default:
		st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
		a.closers = append(a.closers, st.Close)
		a.opts.ready = st.Ping

		svc := packages.New(st, ex).WithMetrics(m).WithLogger(svcLogger)
		if cfg.Kafka.Enabled() {
			topic := cfg.Kafka.PackageEventsTopic
			if topic == "" {
				topic = "package.events"
			}
			producer := kafka.NewProducer(cfg.Kafka.Brokers())
			a.closers = append(a.closers, func() { _ = producer.Close() })
			svc.WithPublisher(producer, topic)
		}
		a.logger.Info("store mode: postgres", zap.String("host", cfg.Database.Host))

		return packagesapi.NewDurableBackend(svc)
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgpackages.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgpackages.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *pickupAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *pickupAPIApp) Run() error {
	return runPickupAPI(a.ctx, a.opts, a.api, a.registry, a.logger)
}
