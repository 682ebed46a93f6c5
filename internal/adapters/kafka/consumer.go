// Package kafka consumes and produces lesson-completed events.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/kerdos/kerdos-api/config"
	"github.com/kerdos/kerdos-api/internal/domain/model"
)

// CompletionHandler applies a batch of lesson completions. It returns an error only
// for failures worth redelivering; invalid items are its own to skip.
type CompletionHandler interface {
	ApplyBatch(ctx context.Context, batch []model.LessonCompletion) error
}

// Consumer consumes lesson-completed messages from Kafka.
type Consumer struct {
	config        config.KafkaConfig
	handler       CompletionHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(cfg config.KafkaConfig, handler CompletionHandler, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger.With("component", "progress_consumer"),
		consumerGroup: consumerGroup,
		ready:         make(chan bool),
	}, nil
}

// Run consumes until ctx is canceled, then closes the consumer group.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				config:  c.config,
				handler: c.handler,
				logger:  c.logger,
				ready:   c.ready,
			}

			if err := c.consumerGroup.Consume(ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.ErrorContext(ctx, "error from consumer", "error", err)
			}

			if ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.ErrorContext(ctx, "consumer group error", "error", err)
			}
		}
	}()

	select {
	case <-ready:
		c.logger.InfoContext(ctx, "Kafka consumer ready")
	case <-ctx.Done():
	}

	<-ctx.Done()
	c.logger.Info("stopping Kafka consumer")
	closeErr := c.consumerGroup.Close()
	c.wg.Wait()
	return closeErr
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	config  config.KafkaConfig
	handler CompletionHandler
	logger  *slog.Logger
	ready   chan bool
	once    sync.Once
}

// Setup is called at the beginning of a new session.
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session.
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim applies completions in batches. Offsets are marked only after the
// batch holding them was applied, so a failed batch is redelivered after the
// session restarts.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batch := make([]model.LessonCompletion, 0, h.config.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(h.config.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() error {
		if last == nil {
			return nil
		}
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(session.Context()), 10*time.Second)
			defer cancel()
			if err := h.handler.ApplyBatch(ctx, batch); err != nil {
				h.logger.Error("failed to apply batch", "error", err, "batch_size", len(batch))
				return err
			}
			h.logger.Debug("applied batch", "batch_size", len(batch))
		}
		session.MarkMessage(last, "")
		batch, last = batch[:0], nil
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			return flush()

		case <-batchTimer.C:
			if err := flush(); err != nil {
				return err
			}
			batchTimer.Reset(h.config.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			last = message

			var c model.LessonCompletion
			if err := json.Unmarshal(message.Value, &c); err != nil {
				h.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}
			if err := c.Validate(); err != nil {
				h.logger.Warn("invalid lesson completion", "error", err, "offset", message.Offset)
				continue
			}

			batch = append(batch, c)
			if len(batch) >= h.config.BatchSize {
				if err := flush(); err != nil {
					return err
				}
				batchTimer.Reset(h.config.BatchTimeout)
			}
		}
	}
}
