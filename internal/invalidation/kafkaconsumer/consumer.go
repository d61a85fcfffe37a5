// Package kafkaconsumer applies data change events from Kafka to the
// matched-count cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/wfs-server/internal/core/observability"
	"github.com/mohammed-shakir/wfs-server/internal/invalidation"
	mylog "github.com/mohammed-shakir/wfs-server/internal/logger"
)

// Bumper retires the cached counts of a model; countcache.Cache implements it.
type Bumper interface {
	Bump(ctx context.Context, model string) (int64, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	counts Bumper
	seen   *offsetDedupe
}

func New(cfg Config, logger *slog.Logger, counts Bumper) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Consumer{cfg: cfg, logger: logger, counts: counts, seen: newOffsetDedupe(cfg.DedupePartitions)}
}

// Start consumes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.counts == nil {
		return errors.New("kafkaconsumer: missing count cache")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	if c.cfg.StartNewest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			obs.IncKafkaConsumerError("consume")
			c.logger.ErrorContext(ctx, "kafka consumer error",
				"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
		}
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		case <-time.After(c.cfg.RetryBackoff):
		}
	}
}

// ProcessOne applies a single message. Malformed events are logged and
// skipped; a failing cache bump is returned so the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	key := partitionKey(msg.Topic, msg.Partition)
	if c.seen.applied(key, msg.Offset) {
		c.logger.DebugContext(ctx, "duplicate invalidation event", "topic", msg.Topic,
			"partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.skip(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.skip(ctx, msg, "invalid", err)
		return nil
	}

	gen, err := c.counts.Bump(ctx, ev.Model)
	obs.ObserveInvalidation(ev.Op, ev.Model, err)
	if err != nil {
		obs.IncKafkaConsumerError("bump")
		return fmt.Errorf("bump %s: %w", ev.Model, err)
	}
	c.seen.record(key, msg.Offset)
	c.logger.DebugContext(ctx, "count cache invalidated",
		"model", ev.Model, "op", ev.Op, "generation", gen, "offset", msg.Offset)
	return nil
}

func (c *Consumer) skip(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	c.logger.WarnContext(ctx, "skipping invalidation event",
		"kind", kind, "err", err,
		"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
}
