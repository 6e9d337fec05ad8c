package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r      messageReader
	logger *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, logger: zap.NewNop()}
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	if l != nil {
		c.logger = l
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume обрабатывает сообщения по одному, строго последовательно.
// Ошибка обработчика останавливает чтение; сообщение остаётся незакоммиченным
// и будет прочитано снова после перезапуска.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			c.logger.Warn("handler failed, message left uncommitted",
				messageFields(msg, zap.Error(err))...,
			)
			return errors.Wrapf(err, "handle %s[%d]@%d", msg.Topic, msg.Partition, msg.Offset)
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit failed", messageFields(msg, zap.Error(err))...)
			return errors.Wrap(err, "commit message")
		}
		c.logger.Debug("message committed", messageFields(msg)...)
	}
}

func messageFields(msg kafka.Message, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.ByteString("key", msg.Key),
	}, extra...)
}
