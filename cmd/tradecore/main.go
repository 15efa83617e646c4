package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	version    = "1.2.0"
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "tradecore",
	Short: "tradecore trading decision core",
	Long: `tradecore is the decision core of an automated trading pipeline:
it scores candidate signals against market structure, order flow and
multi-timeframe context, sizes risk dynamically under portfolio ceilings
and statistical circuit breakers, and manages position lifecycles
against structural levels. The same core drives backtests and live
execution.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tradecore version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tradecore %s\n", version)
	},
}

func init() {
	// .env is optional; real config comes from the yaml file.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to yaml configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(liveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}
