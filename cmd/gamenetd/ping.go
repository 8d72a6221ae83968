package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/limits"
	"github.com/opd-ai/gamenet/message"
	"github.com/opd-ai/gamenet/session"
	"github.com/opd-ai/gamenet/transport"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var errNoReply = errors.New("no reply")

var pingFlags struct {
	port    int
	timeout time.Duration
}

var pingCmd = &cobra.Command{
	Use:   "ping <host>",
	Short: "Query a server for its name and player count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return printError("Failed to load configuration", err)
		}
		defer closer.Close()

		port := pingFlags.port
		if port == 0 {
			port = cfg.Client.ServerPort
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), pingFlags.timeout)
		defer cancel()

		start := time.Now()
		info, from, err := ping(ctx, clock.RealTimeProvider{}, args[0], port)
		if err != nil {
			return printError("Ping failed", err)
		}

		return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
			{"Server", "Address", "Players", "Protocol", "Round trip"},
			{
				info.Name,
				from.String(),
				strconv.Itoa(info.Peers) + "/" + strconv.Itoa(info.MaxClients),
				strconv.Itoa(int(info.Version)),
				time.Since(start).Round(time.Millisecond).String(),
			},
		}).Render()
	},
}

// ping sends one ping from an ephemeral port and waits for the pong.
func ping(ctx context.Context, tp clock.TimeProvider, host string, port int) (session.ServerInfo, transport.Address, error) {
	tr, err := transport.ListenUDP(0, tp)
	if err != nil {
		return session.ServerInfo{}, transport.Address{}, err
	}
	registry := message.NewRegistry()
	registry.Freeze()
	queue := session.NewEventQueue()
	client := session.NewClient(registry, queue, tr, session.ClientConfig{Name: "ping"})
	defer client.Shutdown()

	if err := client.Ping(ctx, host, port); err != nil {
		return session.ServerInfo{}, transport.Address{}, err
	}

	ticker := tp.NewTicker(limits.ConnectRetryInterval / 20)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return session.ServerInfo{}, transport.Address{}, errNoReply
		case <-ticker.C:
			client.ReadPackets()
			for _, ok := queue.First(); ok; _, ok = queue.Next() {
			}
			if info, from, ok := client.ServerInfo(); ok {
				return info, from, nil
			}
		}
	}
}

func init() {
	pingCmd.Flags().IntVarP(&pingFlags.port, "port", "p", 0, "server port (0 uses the configured port)")
	pingCmd.Flags().DurationVarP(&pingFlags.timeout, "timeout", "t", 2*time.Second, "how long to wait for a reply")
}
