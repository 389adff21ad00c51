/*
consumer.go - Inbound consume loop

PURPOSE:
  Reads the inbound topic and feeds each event to the engine registry.
  Partitioning by aggregate key means the loop preserves per-aggregate
  order even with several consumer instances in the group.

COMMIT DISCIPLINE:
  An offset is committed when the event either succeeded or can never
  succeed (malformed payload, unroutable fact, halted aggregate,
  invariant violation). Transient failures (store or broker trouble)
  leave the offset uncommitted so the event is redelivered; the engine's
  idempotence makes the redelivery safe.
*/
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warp/entitlement-engine/engine"
)

// ConsumerConfig holds the inbound connection settings.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
}

// Consumer runs the inbound consume loop against an engine registry.
type Consumer struct {
	reader   *kafka.Reader
	registry *engine.Registry
	log      *slog.Logger
	wg       sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, registry *engine.Registry, log *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{TopicInbound},
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{
		reader:   reader,
		registry: registry,
		log:      log.With(slog.String("component", "bus-consumer")),
	}, nil
}

// Start launches the consume loop. It stops when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Wait blocks until the loop has exited and the reader is closed.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.Error("reader close failed", slog.Any("err", err))
		}
	}()
	c.log.Info("consumer started", slog.String("topic", TopicInbound))

	backoff := time.Second
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.Info("consumer stopped")
				return
			}
			c.log.Error("fetch failed", slog.Any("err", err))
			select {
			case <-time.After(backoff):
				if backoff < 10*time.Second {
					backoff *= 2
				}
				continue
			case <-ctx.Done():
				return
			}
		}
		backoff = time.Second

		if c.handle(ctx, msg) {
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.log.Error("commit failed", slog.Any("err", err))
			}
		}
	}
}

// handle processes one message and reports whether its offset should be
// committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	ev, err := DecodeInbound(msg.Value)
	if err != nil {
		c.log.Error("dropping undecodable message",
			slog.Any("err", err), slog.Int64("offset", msg.Offset))
		return true
	}

	err = c.registry.Handle(ctx, ev)
	switch {
	case err == nil:
		return true
	case permanent(err):
		c.log.Error("dropping unprocessable event",
			slog.Any("err", err),
			slog.String("event", ev.EventID()),
			slog.String("aggregate", ev.Aggregate().String()))
		return true
	default:
		c.log.Error("event failed, will retry",
			slog.Any("err", err),
			slog.String("event", ev.EventID()))
		return false
	}
}

// permanent reports whether retrying the event can never help.
func permanent(err error) bool {
	return engine.IsInvariantViolation(err) ||
		errors.Is(err, engine.ErrClaimantHalted) ||
		errors.Is(err, engine.ErrUnroutableFact) ||
		errors.Is(err, engine.ErrUnknownEventType)
}
