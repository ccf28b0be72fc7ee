package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"confhub/internal/config"
	"confhub/internal/constants"
	"confhub/internal/logger"
	"confhub/pkg/metrics"
	"confhub/pkg/tracing"
)

// KafkaProducer writes keyed messages. The hash balancer keeps all
// messages with the same key on one partition, which preserves per-key
// ordering for consumers.
type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,

		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	headers := []kafka.Header{}
	headers = tracing.InjectTraceContext(ctx, headers)

	start := time.Now()
	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     key,
			Value:   value,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveKafkaWriteDuration("change-dispatcher", topic, time.Since(start))

	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten("change-dispatcher", topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
