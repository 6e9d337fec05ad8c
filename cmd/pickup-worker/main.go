package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/PickupBox/config"
	"github.com/BearBump/PickupBox/internal/logging"
	"github.com/BearBump/PickupBox/internal/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if !cfg.Kafka.Enabled() {
		panic("kafka host is required for pickup-worker")
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunPickupWorker(ctx, cfg, defaultWorkerFactories(), workerRuntime{
		logger:   logger,
		metrics:  m,
		gatherer: reg,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("pickup-worker stopped", zap.Error(err))
	}
}
