package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const (
	headerMessageID     = "message-id"
	headerCorrelationID = "correlation-id"
	headerEventType     = "event-type"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox messages to Kafka, one topic per event type,
// keyed by order ID so events of one order stay in one partition.
type Publisher struct {
	writer messageWriter
}

// NewWriter builds a writer that takes the topic from each message.
func NewWriter(brokers []string, writeTimeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           writeTimeout,
		BatchTimeout:           10 * time.Millisecond,
	}
}

func NewPublisher(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

func (p *Publisher) Publish(ctx context.Context, msg ports.OutboxMessage) error {
	km := kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.OrderID),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: headerMessageID, Value: []byte(msg.ID)},
			{Key: headerCorrelationID, Value: []byte(msg.CorrelationID)},
			{Key: headerEventType, Value: []byte(msg.Topic)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &km.Headers})

	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// headerCarrier adapts Kafka headers to the OTel propagation carrier.
type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
