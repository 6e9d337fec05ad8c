// Package ingest turns inbound SMS messages from Kafka into package records.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/metrics"
	"github.com/BearBump/PickupBox/internal/services/packages"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Adder interface {
	AddMessage(ctx context.Context, text string) (packages.AddResult, error)
}

type Consumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type Ingestor struct {
	svc     Adder
	metrics *metrics.Metrics
	logger  *zap.Logger

	retryDelay time.Duration

	startedAtUnixNano   int64
	lastMessageUnixNano atomic.Int64
	totalConsumed       atomic.Int64
	totalCreated        atomic.Int64
	totalUnparsed       atomic.Int64
	totalMalformed      atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(svc Adder) *Ingestor {
	return &Ingestor{
		svc:               svc,
		logger:            zap.NewNop(),
		retryDelay:        time.Second,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (i *Ingestor) WithLogger(l *zap.Logger) *Ingestor {
	if l != nil {
		i.logger = l
	}
	return i
}

func (i *Ingestor) WithMetrics(m *metrics.Metrics) *Ingestor {
	i.metrics = m
	return i
}

func (i *Ingestor) WithRetryDelay(d time.Duration) *Ingestor {
	if d > 0 {
		i.retryDelay = d
	}
	return i
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	TotalConsumed  int64      `json:"totalConsumed"`
	TotalCreated   int64      `json:"totalCreated"`
	TotalUnparsed  int64      `json:"totalUnparsed"`
	TotalMalformed int64      `json:"totalMalformed"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
}

func (i *Ingestor) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, i.startedAtUnixNano).UTC(),
		TotalConsumed:  i.totalConsumed.Load(),
		TotalCreated:   i.totalCreated.Load(),
		TotalUnparsed:  i.totalUnparsed.Load(),
		TotalMalformed: i.totalMalformed.Load(),
		TotalErrors:    i.totalErrors.Load(),
	}
	if n := i.lastMessageUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastMessageAt = &t
	}
	i.lastErrorMu.Lock()
	st.LastError = i.lastError
	i.lastErrorMu.Unlock()
	return st
}

// Run consumes until ctx is done. A failed message is not committed, so after
// a pause the consumer is restarted and the message is fetched again.
func (i *Ingestor) Run(ctx context.Context, c Consumer) error {
	for {
		err := c.Consume(ctx, func(key, value []byte) error {
			return i.Handle(ctx, key, value)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.setLastError(err)
		i.logger.Error("consume sms", zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.retryDelay):
		}
	}
}

// Handle processes one Kafka message. Only store failures are returned;
// malformed and unrecognized messages are counted and skipped.
func (i *Ingestor) Handle(ctx context.Context, key, value []byte) error {
	i.totalConsumed.Add(1)
	i.lastMessageUnixNano.Store(time.Now().UTC().UnixNano())

	var msg messages.SMSReceived
	if err := json.Unmarshal(value, &msg); err != nil {
		i.skipMalformed(key, err)
		return nil
	}

	res, err := i.svc.AddMessage(ctx, msg.Text)
	switch {
	case errors.Is(err, packages.ErrEmptyMessage):
		i.skipMalformed(key, err)
		return nil
	case err != nil:
		i.totalErrors.Add(1)
		i.setLastError(err)
		i.metrics.Ingested(metrics.OutcomeFailed)
		return err
	}

	if !res.Parsed {
		i.totalUnparsed.Add(1)
		i.metrics.Ingested(metrics.OutcomeUnparsed)
		i.logger.Info("sms not recognized",
			zap.String("message_id", msg.MessageID),
			zap.String("sender", msg.Sender),
		)
		return nil
	}

	i.totalCreated.Add(1)
	i.metrics.Ingested(metrics.OutcomeParsed)
	i.logger.Info("sms ingested",
		zap.String("message_id", msg.MessageID),
		zap.Uint64("package_id", res.Package.ID),
	)
	return nil
}

func (i *Ingestor) skipMalformed(key []byte, err error) {
	i.totalMalformed.Add(1)
	i.metrics.Ingested(metrics.OutcomeMalformed)
	i.logger.Warn("skip malformed sms", zap.ByteString("key", key), zap.Error(err))
}

func (i *Ingestor) setLastError(err error) {
	if err == nil {
		return
	}
	i.lastErrorMu.Lock()
	i.lastError = err.Error()
	i.lastErrorMu.Unlock()
}
