package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/kerdos/kerdos-api/internal/domain/model"
)

// Producer publishes lesson completions, keyed by user id so one user's
// completions stay ordered within a partition.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer creates a synchronous producer for topic.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return &Producer{producer: p, topic: topic}, nil
}

// NewProducerFrom wraps an existing SyncProducer.
func NewProducerFrom(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: p, topic: topic}
}

// Publish sends one completion and returns its partition and offset.
func (p *Producer) Publish(c model.LessonCompletion) (int32, int64, error) {
	if err := c.Validate(); err != nil {
		return 0, 0, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal completion: %w", err)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(c.UserID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("send completion: %w", err)
	}
	return partition, offset, nil
}

// Close flushes and closes the underlying producer.
func (p *Producer) Close() error {
	return p.producer.Close()
}
