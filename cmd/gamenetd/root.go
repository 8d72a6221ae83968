package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/config"
	"github.com/opd-ai/gamenet/logging"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "gamenetd",
	Short: "gamenet - datagram session layer for games",
	Long: `gamenetd hosts or joins gamenet sessions.

Settings come from an optional YAML file and GAMENET_* environment
variables, for example GAMENET_SERVER_PORT=27015.

Examples:
  gamenetd server -c gamenet.yaml      # host a chat server
  gamenetd client --host 10.0.0.5      # join it and chat from stdin
  gamenetd ping 10.0.0.5               # query server information
  gamenetd ban add 203.0.113.7 cheat   # refuse a peer`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(banCmd)
	rootCmd.AddCommand(configCmd)
}

// setup loads the configuration and applies its logging section.
func setup() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	closer, err := logging.Configure(cfg.Log, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, closer, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runTicks calls tick at the given rate until ctx is done or tick returns false.
func runTicks(ctx context.Context, tp clock.TimeProvider, rate int, tick func() bool) {
	ticker := tp.NewTicker(config.TickInterval(rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !tick() {
				return
			}
		}
	}
}

// printError wraps err for cobra, which prints it once on exit.
func printError(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
