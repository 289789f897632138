package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
)

// MessageHandler processes a single consumed record. A nil error marks the
// offset; a non-nil error skips the mark and the record is redelivered.
type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer wraps a sarama consumer group and drives a MessageHandler over the
// subscribed topics until the context is cancelled.
type Consumer struct {
	group   sarama.ConsumerGroup
	claims  claimRunner
	groupID string
}

func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, handler MessageHandler) (*Consumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Version = sarama.V2_5_0_0
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: join group %q: %w", groupID, err)
	}
	return &Consumer{group: group, claims: claimRunner{handler: handler}, groupID: groupID}, nil
}

// Run blocks, rejoining the group after each rebalance, until ctx is done or
// the group fails.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	for {
		err := c.group.Consume(ctx, topics, c.claims)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("kafka: consume %q: %w", c.groupID, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type claimRunner struct {
	handler MessageHandler
}

func (claimRunner) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (claimRunner) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (r claimRunner) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := r.handler.Handle(sess.Context(), msg); err != nil {
			// leave the offset unmarked so the record comes back
			continue
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
