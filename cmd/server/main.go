package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourname/runmatch/internal/api"
	"github.com/yourname/runmatch/internal/bridge"
	"github.com/yourname/runmatch/internal/broker"
	"github.com/yourname/runmatch/internal/config"
	"github.com/yourname/runmatch/internal/logging"
	"github.com/yourname/runmatch/internal/match"
	"github.com/yourname/runmatch/internal/metrics"
	"github.com/yourname/runmatch/internal/stream"
	"github.com/yourname/runmatch/internal/sweep"
	"github.com/yourname/runmatch/internal/waiting"
)

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:   "runmatch",
		Short: "Group-run matching service",
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("RUNMATCH_CONFIG"), "config file path (or set RUNMATCH_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:          "serve",
		SilenceUsage: true,
		Short:        "Run the HTTP server, broker consumer and reconciliation sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newBroker(cfg config.BrokerConfig, logger *zap.Logger) (broker.Broker, error) {
	switch cfg.Kind {
	case broker.KindRedis:
		return broker.NewRedisBroker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger), nil
	case broker.KindNats:
		return broker.NewNatsBroker(cfg.Nats.URL, logger)
	case broker.KindMemory:
		return broker.NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	metrics.Init()

	b, err := newBroker(cfg.Broker, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	var matches match.MatchService = match.LogMatchService{Logger: logger.Named("match.client")}
	if cfg.Match.ServiceURL != "" {
		matches = match.NewHTTPMatchService(cfg.Match.ServiceURL, cfg.Match.Timeout)
	}

	buf := waiting.NewBuffer(cfg.Buffer.Capacity)
	registry := stream.NewRegistry(cfg.Stream.BufferSize, logger)
	br := bridge.New(b, cfg.Broker.Channel, logger)
	coord := match.NewCoordinator(match.Options{
		Buffer:       buf,
		Registry:     registry,
		Publisher:    br,
		Matches:      matches,
		SatisfyCount: cfg.Match.SatisfyCount,
		CallTimeout:  cfg.Match.Timeout,
		Logger:       logger,
	})
	sweeper := sweep.NewSweeper(registry, buf, matches, cfg.Sweep.Interval, logger)

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(coord, logger),
		// open event streams end when the service stops
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	logger.Info("starting runmatch",
		zap.String("addr", cfg.Server.Addr),
		zap.String("broker", cfg.Broker.Kind),
		zap.Int("satisfyCount", cfg.Match.SatisfyCount),
		zap.Duration("sweepInterval", cfg.Sweep.Interval),
	)

	g.Go(func() error { return br.Run(gctx, coord) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	coord.Wait()
	return err
}
