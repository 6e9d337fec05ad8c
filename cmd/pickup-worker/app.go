package main

import (
	"context"
	"time"

	"github.com/BearBump/PickupBox/config"
	"github.com/BearBump/PickupBox/internal/broker/kafka"
	"github.com/BearBump/PickupBox/internal/extractor"
	"github.com/BearBump/PickupBox/internal/metrics"
	"github.com/BearBump/PickupBox/internal/services/ingest"
	"github.com/BearBump/PickupBox/internal/services/packages"
	"github.com/BearBump/PickupBox/internal/storage/pgpackages"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type workerStore interface {
	packages.Store
	Ping(ctx context.Context) error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (store workerStore, closeFn func(), err error)
	newConsumer func(cfg *config.Config, topic, group string, logger *zap.Logger) (c ingest.Consumer, closeFn func())
	newProducer func(cfg *config.Config) (p packages.Publisher, closeFn func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			st, err := pgpackages.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config, topic, group string, logger *zap.Logger) (ingest.Consumer, func()) {
			c := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, group).WithLogger(logger)
			return c, func() { _ = c.Close() }
		},
		newProducer: func(cfg *config.Config) (packages.Publisher, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
	}
}

type workerRuntime struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	onListen func(httpAddr string)
}

type workerSettings struct {
	SMSTopic      string
	EventsTopic   string
	ConsumerGroup string
	RetryDelay    time.Duration
	HTTPAddr      string
}

func settingsFromConfig(cfg *config.Config) workerSettings {
	s := workerSettings{
		SMSTopic:      cfg.Kafka.SMSReceivedTopicName,
		EventsTopic:   cfg.Kafka.PackageEventsTopic,
		ConsumerGroup: cfg.PickupBox.WorkerKafkaConsumerGroup,
		RetryDelay:    time.Duration(cfg.PickupBox.WorkerRetryDelaySeconds) * time.Second,
		HTTPAddr:      cfg.PickupBox.WorkerHTTPAddr,
	}
	if s.SMSTopic == "" {
		s.SMSTopic = "sms.received"
	}
	if s.EventsTopic == "" {
		s.EventsTopic = "package.events"
	}
	if s.ConsumerGroup == "" {
		s.ConsumerGroup = "pickup-worker"
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = 2 * time.Second
	}
	if s.HTTPAddr == "" {
		s.HTTPAddr = ":8082"
	}
	return s
}

func RunPickupWorker(ctx context.Context, cfg *config.Config, f workerFactories, rt workerRuntime) error {
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	set := settingsFromConfig(cfg)

	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	svc := packages.New(store, extractor.Default()).
		WithMetrics(rt.metrics).
		WithLogger(rt.logger.Named("packages"))

	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		defer closeProducer()
	}
	if producer != nil {
		svc.WithPublisher(producer, set.EventsTopic)
	}

	consumer, closeConsumer := f.newConsumer(cfg, set.SMSTopic, set.ConsumerGroup, rt.logger.Named("kafka"))
	if closeConsumer != nil {
		defer closeConsumer()
	}

	ing := ingest.New(svc).
		WithLogger(rt.logger.Named("ingest")).
		WithMetrics(rt.metrics).
		WithRetryDelay(set.RetryDelay)

	rt.logger.Info("pickup worker started",
		zap.String("topic", set.SMSTopic),
		zap.String("group", set.ConsumerGroup),
		zap.String("events_topic", set.EventsTopic),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ing.Run(gctx, consumer)
	})
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr: set.HTTPAddr,
			onListen: rt.onListen,
			ingestor: ing,
			ready:    store.Ping,
			gatherer: rt.gatherer,
			settings: set,
		})
	})
	return g.Wait()
}
