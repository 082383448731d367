// Command platform is the trading platform CLI: the market data
// pipeline, the backtest and deployment runners, the event handler
// worker, and the HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trading-platformv1/config"
	"trading-platformv1/internal/logger"
	"trading-platformv1/internal/strategy"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "platform",
	Short:         "Algorithmic trading platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		log = logger.Init(cmd.Name(), parseLevel(logLevel))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// parseParams turns repeated --param key=value flags into strategy
// parameters.
func parseParams(raw []string) (strategy.Params, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	p := strategy.Params{}
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		p[k] = v
	}
	return p, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
