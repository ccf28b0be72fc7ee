package broker

import (
	"context"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}
