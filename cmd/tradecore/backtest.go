package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantrun/tradecore/internal/config"
	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/engine"
	"github.com/quantrun/tradecore/internal/feed"
)

var (
	backtestDataDir string
	backtestJSON    bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay CSV history through the decision core",
	Long: `Replay one or more CSV files (time,open,high,low,close,volume) through
the full decision pipeline on a logical clock. Each file's base name is
used as the symbol.`,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringVarP(&backtestDataDir, "data", "d", "data", "Directory of per-symbol CSV files")
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "Print the result summary as JSON")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to default configuration")
		cfg = config.Default()
	}

	base, err := domain.ParseTimeframe(cfg.Engine.BaseTimeframe)
	if err != nil {
		return err
	}
	f := feed.NewCSVFeed(base)

	files, err := filepath.Glob(filepath.Join(backtestDataDir, "*.csv"))
	if err != nil || len(files) == 0 {
		return fmt.Errorf("no CSV files under %s", backtestDataDir)
	}
	for _, path := range files {
		symbol := strings.TrimSuffix(filepath.Base(path), ".csv")
		if err := f.Load(path, symbol); err != nil {
			return err
		}
		log.Info().Str("symbol", symbol).Str("file", path).Msg("loaded series")
	}

	eng, _, _, closeSinks, err := buildEngine(cfg, f, []engine.Strategy{newTrendPullbackStrategy(base)})
	if err != nil {
		return err
	}
	defer closeSinks()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := engine.Backtest(ctx, eng, f)
	if err != nil {
		return err
	}
	if backtestJSON {
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
	}
	return nil
}
