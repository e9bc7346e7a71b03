package broker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NatsBroker struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNatsBroker(url string, logger *zap.Logger, opts ...nats.Option) (*NatsBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NatsBroker{conn: nc, logger: logger.Named("broker.nats")}, nil
}

func (b *NatsBroker) IsConnected() bool { return b.conn.IsConnected() }

func (b *NatsBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if err := b.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

func (b *NatsBroker) Subscribe(ctx context.Context, channel string, h Handler) error {
	sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
		h(ctx, m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	b.logger.Info("subscribed", zap.String("channel", channel))

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		b.logger.Warn("nats unsubscribe", zap.String("channel", channel), zap.Error(err))
	}
	return nil
}

func (b *NatsBroker) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
