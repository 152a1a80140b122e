package consumers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/storefront-wallet-ledger/internal/config"
)

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// KafkaConsumer implements Consumer on the audit topic
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewKafkaConsumer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig) *KafkaConsumer {
	return &KafkaConsumer{
		logger: logger,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       cfg.AuditTopic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: kafka.FirstOffset,
		}),
	}
}

// Subscribe blocks, processing messages with the handler until the context is
// canceled or the reader is closed. A message is committed only after the
// handler accepts it; a failed message is redelivered, so the handler decides
// what is retriable and what goes to the DLQ.
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	conf := c.reader.Config()
	c.logger.Info("Subscribed to Kafka topic",
		"topic", conf.Topic,
		"group_id", conf.GroupID,
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			// The reader reports io.EOF once it has been closed
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Stopping consumer",
					"topic", conf.Topic,
					"group_id", conf.GroupID,
				)
				return nil
			}
			c.logger.Error("Failed to fetch message from Kafka",
				"topic", conf.Topic,
				"group_id", conf.GroupID,
				"error", err,
			)
			// Otherwise, wait a bit and try again
			time.Sleep(time.Second)
			continue
		}

		c.logger.Debug("Received message from Kafka",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)

		processingErr := handler(ctx, msg.Key, msg.Value)
		if processingErr != nil {
			c.logger.Error("Failed to process message, will not commit offset",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", processingErr,
			)
			// Failed messages are not committed to allow for reprocessing or DLQ handling
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message after successful processing",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		} else {
			c.logger.Debug("Message committed successfully",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"key", string(msg.Key),
			)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
