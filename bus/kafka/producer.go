/*
producer.go - Outbound publishing

PURPOSE:
  Implements engine.Publisher over kafka-go writers, one writer per
  outbound topic. The engine publishes synchronously after persisting;
  RequiredAcks=all means a returned nil really is on the brokers.
*/
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/warp/entitlement-engine/engine"
)

// ProducerConfig holds the outbound connection settings.
type ProducerConfig struct {
	Brokers []string
}

// Producer publishes engine outbound events to their topics.
type Producer struct {
	brokers []string
	log     *slog.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewProducer(cfg ProducerConfig, log *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Producer{
		brokers: cfg.Brokers,
		log:     log.With(slog.String("component", "bus-producer")),
		writers: make(map[string]*kafka.Writer),
	}, nil
}

// Publish implements engine.Publisher.
func (p *Producer) Publish(out engine.Outbound) error {
	topic, err := outboundTopic(out.OutboundKind())
	if err != nil {
		return err
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode %s: %w", out.OutboundKind(), err)
	}
	value, err := json.Marshal(Envelope{Type: out.OutboundKind(), Payload: payload})
	if err != nil {
		return err
	}

	err = p.writer(topic).WriteMessages(context.Background(), kafka.Message{
		Key:   outboundKey(out),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", out.OutboundKind(), topic, err)
	}

	p.log.Debug("published", slog.String("kind", out.OutboundKind()), slog.String("topic", topic))
	return nil
}

func (p *Producer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(p.brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
		p.writers[topic] = w
	}
	return w
}

// Close closes every writer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer %s: %w", topic, err)
		}
	}
	return firstErr
}
