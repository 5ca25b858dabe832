package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает события каталога для инвалидации кэша ship-api.
type Consumer struct {
	r     messageReader
	topic string
}

// NewConsumer starts a fresh group at the newest offset: old invalidations are
// useless to a cache that was just started empty.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.LastOffset,
		MaxWait:           500 * time.Millisecond,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	c := newConsumerWithReader(kafka.NewReader(cfg))
	c.topic = topic
	return c
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume вызывает handler для каждого сообщения, пока ctx жив.
// Tombstones (пустое value) коммитятся без вызова handler.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "fetch %s", c.topic)
		}
		if len(msg.Value) > 0 {
			if err := handler(msg.Key, msg.Value); err != nil {
				// commit только при успехе, иначе событие потеряется
				slog.Error("kafka handler failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
				return err
			}
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// DecodeJSON adapts a typed handler to Consume. A payload that does not decode
// is logged and acknowledged so one bad event cannot stall the partition.
func DecodeJSON[T any](topic string, fn func(T) error) func(key, value []byte) error {
	return func(key, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			slog.Error("skip malformed event", "topic", topic, "key", string(key), "err", err)
			return nil
		}
		return fn(v)
	}
}
