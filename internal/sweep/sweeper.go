package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yourname/runmatch/internal/metrics"
)

const (
	DefaultInterval    = 4 * time.Hour
	defaultCallTimeout = 10 * time.Second
)

type Streams interface {
	ListConnected() []string
	Close(id string)
}

type Membership interface {
	HasElement(id string) bool
}

type StatusUpdater interface {
	SetMemberStatus(ctx context.Context, id string, active bool) error
}

// Sweeper closes connected streams whose user is no longer waiting, i.e. the
// user was drained but never got (or never consumed) a terminal event.
type Sweeper struct {
	streams  Streams
	waiting  Membership
	status   StatusUpdater
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(streams Streams, waiting Membership, status StatusUpdater, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		streams:  streams,
		waiting:  waiting,
		status:   status,
		interval: interval,
		logger:   logger.Named("sweep"),
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass and returns how many streams it closed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	closed := 0
	for _, id := range s.streams.ListConnected() {
		if s.waiting.HasElement(id) {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		if err := s.status.SetMemberStatus(callCtx, id, false); err != nil {
			metrics.CollaboratorErrors.WithLabelValues("set_status").Inc()
			s.logger.Error("set member status failed", zap.String("user", id), zap.Error(err))
		}
		cancel()

		s.streams.Close(id)
		metrics.OrphansReclaimed.Inc()
		closed++
	}
	if closed > 0 {
		s.logger.Info("orphaned streams closed", zap.Int("count", closed))
	}
	return closed
}
