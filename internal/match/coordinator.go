package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourname/runmatch/internal/metrics"
	"github.com/yourname/runmatch/internal/stream"
	"github.com/yourname/runmatch/internal/waiting"
	"github.com/yourname/runmatch/pkg/types"
)

const (
	DefaultSatisfyCount = 2
	defaultCallTimeout  = 10 * time.Second
)

var (
	ErrInvalidDistance = errors.New("match: invalid running distance")
	ErrMissingUser     = errors.New("match: missing user id")
)

// Publisher puts waiting events on the broker.
type Publisher interface {
	PublishRegistration(ctx context.Context, u types.WaitingUser) error
	PublishCancellation(ctx context.Context, id string) error
}

type Options struct {
	Buffer       *waiting.Buffer
	Registry     *stream.Registry
	Publisher    Publisher
	Matches      MatchService
	SatisfyCount int
	CallTimeout  time.Duration
	Logger       *zap.Logger
}

// Coordinator turns waiting registrations into matches. Every threshold check
// and drain runs under one lock shared by all distances, so a user is drained
// at most once and no group is formed twice.
type Coordinator struct {
	mu           sync.Mutex
	buffer       *waiting.Buffer
	registry     *stream.Registry
	publisher    Publisher
	matches      MatchService
	satisfyCount int
	callTimeout  time.Duration
	logger       *zap.Logger
	inflight     sync.WaitGroup
}

func NewCoordinator(o Options) *Coordinator {
	if o.SatisfyCount <= 0 {
		o.SatisfyCount = DefaultSatisfyCount
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Coordinator{
		buffer:       o.Buffer,
		registry:     o.Registry,
		publisher:    o.Publisher,
		matches:      o.Matches,
		satisfyCount: o.SatisfyCount,
		callTimeout:  o.CallTimeout,
		logger:       o.Logger.Named("match"),
	}
}

// Register opens id's stream and then publishes the registration, so a match
// can never be announced before the stream exists.
func (c *Coordinator) Register(ctx context.Context, id, distance string) (types.MessageResponse, error) {
	if id == "" {
		return types.MessageResponse{}, ErrMissingUser
	}
	d, err := types.ParseRunningDistance(distance)
	if err != nil {
		return types.MessageResponse{}, fmt.Errorf("%w: %v", ErrInvalidDistance, err)
	}

	c.registry.Open(id)
	if err := c.publisher.PublishRegistration(ctx, types.WaitingUser{ID: id, Distance: d}); err != nil {
		c.registry.Close(id)
		return types.MessageResponse{}, fmt.Errorf("publish registration: %w", err)
	}

	c.logger.Info("user registered", zap.String("user", id), zap.String("distance", string(d)))
	return types.MessageResponse{Message: id + " registered to waiting queue"}, nil
}

func (c *Coordinator) Subscribe(id string) (*stream.Stream, error) {
	if id == "" {
		return nil, ErrMissingUser
	}
	return c.registry.Attach(id)
}

func (c *Coordinator) Cancel(ctx context.Context, id string) (types.MessageResponse, error) {
	if id == "" {
		return types.MessageResponse{}, ErrMissingUser
	}
	if err := c.publisher.PublishCancellation(ctx, id); err != nil {
		return types.MessageResponse{}, fmt.Errorf("publish cancellation: %w", err)
	}
	return types.MessageResponse{Message: id + " left waiting queue"}, nil
}

func (c *Coordinator) OnCancel(_ context.Context, id string) {
	removed := c.buffer.Remove(id)
	c.registry.Close(id)
	c.logger.Info("user canceled", zap.String("user", id), zap.Bool("wasWaiting", removed))
}

func (c *Coordinator) OnWaitingUser(_ context.Context, u types.WaitingUser) {
	added, err := c.buffer.Add(u)
	if err != nil {
		c.logger.Warn("rejecting waiting user", zap.String("user", u.ID), zap.Error(err))
		return
	}
	if !added {
		c.logger.Debug("duplicate registration ignored", zap.String("user", u.ID))
	}
	c.process()
}

func (c *Coordinator) process() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range types.Distances {
		for c.buffer.SatisfyCount(d, c.satisfyCount) {
			ids, err := c.buffer.Drain(d, c.satisfyCount)
			if err != nil {
				c.logger.Error("drain failed", zap.String("distance", string(d)), zap.Error(err))
				break
			}
			c.matched(ids, d)
		}
	}
}

func (c *Coordinator) matched(ids []string, d types.RunningDistance) {
	matchID := uuid.NewString()
	metrics.MatchesTotal.WithLabelValues(string(d)).Inc()
	c.logger.Info("match formed",
		zap.String("match", matchID),
		zap.String("distance", string(d)),
		zap.Strings("users", ids),
	)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(WithCorrelationID(context.Background(), matchID), c.callTimeout)
		defer cancel()
		if err := c.matches.Create(ctx, ids, d); err != nil {
			metrics.CollaboratorErrors.WithLabelValues("create").Inc()
			c.logger.Error("create match failed", zap.String("match", matchID), zap.Error(err))
		}
	}()

	for _, id := range ids {
		c.registry.Send(id, types.EventMatched)
	}
}

// Wait blocks until outstanding match-service calls return.
func (c *Coordinator) Wait() { c.inflight.Wait() }
