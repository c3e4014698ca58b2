package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/hrodmn/eoapi-subdataset-params/internal/invalidation"
	"github.com/hrodmn/eoapi-subdataset-params/internal/observability"
)

// Invalidator is the item cache surface the consumer purges.
type Invalidator interface {
	Invalidate(ctx context.Context, collection, item string) error
	InvalidateCollection(ctx context.Context, collection string) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Invalidator
}

func New(cfg Config, logger *slog.Logger, cache Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: cache}
}

// Start consumes STAC change events until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing item cache")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("stac invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stac invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single change event message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.ObserveInvalidation("decode", err)
		c.logger.Error("event decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		observability.ObserveInvalidation(ev.Op, err)
		// malformed events are logged and skipped, not retried
		c.logger.Warn("dropping invalid event",
			"topic", msg.Topic, "offset", msg.Offset, "err", err)
		return nil
	}

	if ev.CollectionWide() {
		n, err := c.cache.InvalidateCollection(ctx, ev.Collection)
		observability.ObserveInvalidation(ev.Op, err)
		if err != nil {
			return fmt.Errorf("invalidate collection %s: %w", ev.Collection, err)
		}
		c.logger.Info("invalidated collection",
			"collection", ev.Collection, "op", ev.Op, "keys", n)
		return nil
	}

	err := c.cache.Invalidate(ctx, ev.Collection, ev.Item)
	observability.ObserveInvalidation(ev.Op, err)
	if err != nil {
		return fmt.Errorf("invalidate %s/%s: %w", ev.Collection, ev.Item, err)
	}
	c.logger.Debug("invalidated item",
		"collection", ev.Collection, "item", ev.Item, "op", ev.Op)
	return nil
}
