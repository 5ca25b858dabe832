package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const contentTypeJSON = "application/json"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer публикует ship.changed и catalog.synced.
type Producer struct {
	w      messageWriter
	source string
}

// NewProducer creates a hash-balanced writer; source is stamped into every
// message header so consumers can tell which deployment emitted it.
func NewProducer(brokers []string, source string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, source)
}

func newProducerWithWriter(w messageWriter, source string) *Producer {
	return &Producer{w: w, source: source}
}

// Publish пишет одно JSON-сообщение. Ключ: externalId или runId,
// поэтому события одного корабля попадают в одну партицию.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if topic == "" {
		return errors.New("kafka publish: empty topic")
	}
	headers := []kafka.Header{{Key: "content-type", Value: []byte(contentTypeJSON)}}
	if p.source != "" {
		headers = append(headers, kafka.Header{Key: "source", Value: []byte(p.source)})
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
	}); err != nil {
		return errors.Wrapf(err, "kafka publish %s", topic)
	}
	return nil
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
