package main

import (
	"github.com/opd-ai/gamenet"
	"github.com/opd-ai/gamenet/banlist"
	"github.com/opd-ai/gamenet/clock"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serverFlags struct {
	port       int
	name       string
	maxClients int
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Host a chat server",
	Long: `Host a gamenet server that relays chat lines to every connected player.

Examples:
  gamenetd server                      # configured port, 27001 by default
  gamenetd server -p 27015 -n "LAN"    # custom port and server name`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return printError("Failed to load configuration", err)
		}
		defer closer.Close()

		if cmd.Flags().Changed("name") {
			cfg.Server.Name = serverFlags.name
		}
		if cmd.Flags().Changed("max-clients") {
			cfg.Server.MaxClients = serverFlags.maxClients
			if err := cfg.ValidateAndApplyDefaults(); err != nil {
				return printError("Invalid configuration", err)
			}
		}

		tp := clock.RealTimeProvider{}
		opts := []gamenet.Option{gamenet.WithTimeProvider(tp)}
		if cfg.BanList.Enabled {
			store, err := banlist.Open(cfg.BanList.Path, tp)
			if err != nil {
				return printError("Failed to open ban list", err)
			}
			defer store.Close()
			opts = append(opts, gamenet.WithGatekeeper(store))
		}

		sys := gamenet.New(cfg, opts...)
		sys.RegisterMessage(chatDescriptor)
		if !sys.StartServer(serverFlags.port) {
			return printError("Failed to start server", errStartFailed)
		}
		defer sys.Shutdown()

		pterm.Success.Printfln("%q listening on %s (%s)", cfg.Server.Name, sys.Server().LocalAddr(), sys.LocalAddress())

		ctx, stop := signalContext()
		defer stop()
		runTicks(ctx, tp, cfg.Server.TickRate, func() bool {
			sys.ServerReceiveMessages()
			for ev, ok := sys.FirstEvent(); ok; ev, ok = sys.NextEvent() {
				handleServerEvent(sys, ev)
			}
			sys.ServerSendMessages()
			return true
		})
		pterm.Info.Println("Server shutting down")
		return nil
	},
}

func handleServerEvent(sys *gamenet.NetworkSystem, ev gamenet.Event) {
	switch ev.Type {
	case gamenet.EventConnected:
		pterm.Success.Printfln("%s joined from %s", ev.Channel.Name(), ev.Channel.RemoteAddress())
	case gamenet.EventDisconnected:
		if ev.Err != nil {
			pterm.Warning.Printfln("%s dropped: %v", ev.Channel.Name(), ev.Err)
			return
		}
		pterm.Info.Printfln("%s left: %s", ev.Channel.Name(), ev.Reason)
	case gamenet.EventMessageReceived:
		chat, ok := ev.Message.(*ChatMessage)
		if !ok {
			return
		}
		chat.From = ev.Channel.Name()
		pterm.Printfln("<%s> %s", chat.From, chat.Text)
		if !sys.Server().Broadcast(chat) {
			logrus.WithFields(logrus.Fields{
				"function": "handleServerEvent",
				"from":     chat.From,
			}).Warn("Chat relay did not reach every peer")
		}
	}
}

func init() {
	serverCmd.Flags().IntVarP(&serverFlags.port, "port", "p", 0, "UDP port (0 uses the configured port)")
	serverCmd.Flags().StringVarP(&serverFlags.name, "name", "n", "", "server name")
	serverCmd.Flags().IntVar(&serverFlags.maxClients, "max-clients", 0, "player limit")
}
