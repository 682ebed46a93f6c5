package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kerdos/kerdos-api/config"
	"github.com/kerdos/kerdos-api/internal/adapters/kafka"
	"github.com/kerdos/kerdos-api/internal/service"
)

var _ kafka.CompletionHandler = (*service.ProgressService)(nil)

// ProgressConsumerConfig contains configuration for the lesson progress consumer.
type ProgressConsumerConfig struct {
	Kafka   config.KafkaConfig
	Handler kafka.CompletionHandler
	Logger  *slog.Logger
}

// RunProgressConsumer consumes lesson-completed events until ctx is canceled.
func RunProgressConsumer(ctx context.Context, cfg ProgressConsumerConfig) error {
	if cfg.Handler == nil {
		return errors.New("progress consumer requires a handler")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Handler, logger)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	logger.InfoContext(ctx, "progress consumer starting",
		"topic", cfg.Kafka.Topic,
		"group_id", cfg.Kafka.GroupID,
		"brokers", cfg.Kafka.Brokers,
	)
	return consumer.Run(ctx)
}
