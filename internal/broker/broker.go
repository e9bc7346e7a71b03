// Package broker carries serialized waiting events between instances.
// Delivery is at-least-once at best; no ordering across users is assumed.
package broker

import "context"

// Handler processes one raw message.
type Handler func(ctx context.Context, payload []byte)

type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe dispatches messages on channel to h until ctx is done.
	Subscribe(ctx context.Context, channel string, h Handler) error
	Close() error
}

const (
	KindRedis  = "redis"
	KindNats   = "nats"
	KindMemory = "memory"
)
