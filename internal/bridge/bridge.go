package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourname/runmatch/internal/broker"
	"github.com/yourname/runmatch/internal/metrics"
	"github.com/yourname/runmatch/pkg/types"
)

// Ingest receives registrations and cancellations decoded off the broker.
type Ingest interface {
	OnWaitingUser(ctx context.Context, u types.WaitingUser)
	OnCancel(ctx context.Context, id string)
}

type cancellation struct {
	ID string `json:"id"`
}

// Bridge adapts a broker.Broker to the waiting domain.
type Bridge struct {
	b             broker.Broker
	channel       string
	cancelChannel string
	logger        *zap.Logger
}

func New(b broker.Broker, channel string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		b:             b,
		channel:       channel,
		cancelChannel: channel + ".cancel",
		logger:        logger.Named("bridge"),
	}
}

func (br *Bridge) PublishRegistration(ctx context.Context, u types.WaitingUser) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode waiting user: %w", err)
	}
	return br.b.Publish(ctx, br.channel, raw)
}

func (br *Bridge) PublishCancellation(ctx context.Context, id string) error {
	raw, err := json.Marshal(cancellation{ID: id})
	if err != nil {
		return fmt.Errorf("encode cancellation: %w", err)
	}
	return br.b.Publish(ctx, br.cancelChannel, raw)
}

func Decode(raw []byte) (types.WaitingUser, error) {
	var u types.WaitingUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return u, fmt.Errorf("decode waiting user: %w", err)
	}
	if u.ID == "" {
		return u, errors.New("decode waiting user: empty id")
	}
	if !u.Distance.Valid() {
		return u, fmt.Errorf("decode waiting user: unsupported distance %q", u.Distance)
	}
	return u, nil
}

// OnMessage decodes a registration and hands it to in. Malformed payloads are
// logged and dropped.
func (br *Bridge) OnMessage(ctx context.Context, raw []byte, in Ingest) {
	u, err := Decode(raw)
	if err != nil {
		metrics.DecodeErrors.Inc()
		br.logger.Warn("dropping malformed registration", zap.Error(err), zap.ByteString("payload", raw))
		return
	}
	in.OnWaitingUser(ctx, u)
}

func (br *Bridge) onCancelMessage(ctx context.Context, raw []byte, in Ingest) {
	var c cancellation
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" {
		metrics.DecodeErrors.Inc()
		br.logger.Warn("dropping malformed cancellation", zap.Error(err), zap.ByteString("payload", raw))
		return
	}
	in.OnCancel(ctx, c.ID)
}

// Run subscribes to both channels and blocks until ctx is done or a
// subscription fails.
func (br *Bridge) Run(ctx context.Context, in Ingest) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return br.b.Subscribe(ctx, br.channel, func(ctx context.Context, p []byte) {
			br.OnMessage(ctx, p, in)
		})
	})
	g.Go(func() error {
		return br.b.Subscribe(ctx, br.cancelChannel, func(ctx context.Context, p []byte) {
			br.onCancelMessage(ctx, p, in)
		})
	})
	return g.Wait()
}
