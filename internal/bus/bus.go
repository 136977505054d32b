// Package bus connects the gateway to the backend event stream: outbound
// social events are published to Kafka, inbound backend events are consumed
// and re-broadcast to locally connected clients.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edumatrix/realtime-gateway/internal/metrics"
)

// Publisher is the fire-and-forget side of the bus handed to handlers.
// Implementations must never block the caller on broker I/O.
type Publisher interface {
	Publish(topic string, env Envelope)
}

// Handler receives every consumed bus message.
type Handler func(topic string, env Envelope)

type outbound struct {
	topic string
	env   Envelope
}

// KafkaBus publishes through a shared writer and runs one consumer per
// topic. Each replica uses its own consumer group so all replicas see every
// message and can fan out to their own sockets.
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	group   string
	handler Handler
	queue   chan outbound
	log     *zap.Logger
}

func NewKafkaBus(brokers []string, group, replicaID string, log *zap.Logger) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		brokers: brokers,
		group:   fmt.Sprintf("%s-%s", group, replicaID),
		queue:   make(chan outbound, 1024),
		log:     log.With(zap.String("module", "bus")),
	}
}

// OnMessage sets the consume callback. Call before Run.
func (b *KafkaBus) OnMessage(h Handler) { b.handler = h }

// Publish enqueues an event for delivery. When the queue is full the event
// is dropped with a warning rather than stalling a socket handler.
func (b *KafkaBus) Publish(topic string, env Envelope) {
	select {
	case b.queue <- outbound{topic: topic, env: env}:
	default:
		metrics.BusPublishFailures.WithLabelValues(topic).Inc()
		b.log.Warn("publish queue full, dropping event",
			zap.String("topic", topic), zap.String("type", env.Type))
	}
}

// Run drives the publish worker and the per-topic consumers until ctx ends.
func (b *KafkaBus) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.publishLoop(ctx) })
	for _, topic := range ConsumeTopics {
		topic := topic
		g.Go(func() error { return b.consumeLoop(ctx, topic) })
	}
	return g.Wait()
}

// Close flushes and closes the writer.
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

func (b *KafkaBus) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-b.queue:
			b.write(ctx, out)
		}
	}
}

func (b *KafkaBus) write(ctx context.Context, out outbound) {
	raw, err := out.env.Marshal()
	if err != nil {
		b.log.Error("failed to encode bus event",
			zap.String("topic", out.topic), zap.Error(err))
		return
	}
	op := func() error {
		return b.writer.WriteMessages(ctx, kafka.Message{
			Topic: out.topic,
			Key:   []byte(out.env.Type),
			Value: raw,
		})
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		metrics.BusPublishFailures.WithLabelValues(out.topic).Inc()
		b.log.Error("giving up on bus publish",
			zap.String("topic", out.topic),
			zap.String("type", out.env.Type),
			zap.Error(err))
		return
	}
	metrics.BusPublished.WithLabelValues(out.topic).Inc()
}

func (b *KafkaBus) consumeLoop(ctx context.Context, topic string) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		GroupID:  b.group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	b.log.Info("consuming topic", zap.String("topic", topic), zap.String("group", b.group))
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("bus read failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		env, err := ParseEnvelope(msg.Value)
		if err != nil {
			b.log.Warn("discarding malformed bus message",
				zap.String("topic", topic), zap.Error(err))
			continue
		}
		metrics.BusConsumed.WithLabelValues(topic).Inc()
		if b.handler != nil {
			b.handler(topic, env)
		}
	}
}

// NopBus satisfies Publisher when the broker is disabled.
type NopBus struct{}

func (NopBus) Publish(string, Envelope) {}
