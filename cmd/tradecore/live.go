package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantrun/tradecore/internal/config"
	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/engine"
	"github.com/quantrun/tradecore/internal/feed"
	"github.com/quantrun/tradecore/internal/httpapi"
	"github.com/quantrun/tradecore/internal/persistence"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the decision core against a live bar stream",
	RunE:  runLive,
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	base, err := domain.ParseTimeframe(cfg.Engine.BaseTimeframe)
	if err != nil {
		return err
	}
	lf := feed.NewLiveFeed(cfg.LiveFeed, base)

	eng, state, mets, closeSinks, err := buildEngine(cfg, lf, []engine.Strategy{newTrendPullbackStrategy(base)})
	if err != nil {
		return err
	}
	defer closeSinks()

	var snapshots *persistence.Snapshots
	if cfg.Sinks.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Sinks.RedisAddr})
		defer client.Close()
		snapshots = persistence.NewSnapshots(client)
	}

	if cfg.Sinks.HTTPAddr != "" {
		srv := httpapi.NewServer(cfg.Sinks.HTTPAddr, state, mets)
		srv.Start()
		defer srv.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := lf.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("live feed stopped")
		}
	}()

	runner := engine.NewLiveRunner(eng, snapshots)
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
