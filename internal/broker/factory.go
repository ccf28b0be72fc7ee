package broker

import (
	"fmt"

	"confhub/internal/config"
	"confhub/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	return NewKafkaProducer(cfg.Kafka, log), nil
}
