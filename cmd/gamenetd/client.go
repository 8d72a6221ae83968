package main

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/opd-ai/gamenet"
	"github.com/opd-ai/gamenet/channel"
	"github.com/opd-ai/gamenet/clock"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var errStartFailed = errors.New("could not open transport")

var clientFlags struct {
	host       string
	serverPort int
	port       int
	name       string
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Join a chat server",
	Long: `Join a gamenet server and send each line read from stdin as chat.

Examples:
  gamenetd client                          # configured server, localhost by default
  gamenetd client --host 10.0.0.5 -n bob   # join a LAN server as bob`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return printError("Failed to load configuration", err)
		}
		defer closer.Close()

		if cmd.Flags().Changed("name") {
			cfg.Client.Name = clientFlags.name
		}
		host := cfg.Client.ServerHost
		if clientFlags.host != "" {
			host = clientFlags.host
		}

		tp := clock.RealTimeProvider{}
		sys := gamenet.New(cfg, gamenet.WithTimeProvider(tp))
		sys.RegisterMessage(chatDescriptor)
		if !sys.StartClient(clientFlags.port) {
			return printError("Failed to start client", errStartFailed)
		}
		defer sys.Shutdown()

		ch := sys.ConnectClientToServer(host, clientFlags.serverPort)
		if ch == nil {
			return printError("Failed to connect", errors.New("cannot resolve "+host+" or invalid player name"))
		}
		pterm.Info.Printfln("Connecting to %s as %s", ch.RemoteAddress(), cfg.Client.Name)

		lines := readLines()
		ctx, stop := signalContext()
		defer stop()

		runTicks(ctx, tp, cfg.Client.TickRate, func() bool {
			sys.ClientReceiveMessages()
			for ev, ok := sys.FirstEvent(); ok; ev, ok = sys.NextEvent() {
				if !handleClientEvent(ev) {
					return false
				}
			}
			if ch.ConnectionState() == channel.Connected {
				for pending := true; pending; {
					select {
					case line, ok := <-lines:
						if !ok {
							sys.DisconnectClientFromServer(ch)
							return false
						}
						ch.AddMessage(&ChatMessage{Text: line}, false)
					default:
						pending = false
					}
				}
			}
			sys.ClientSendMessages()
			return true
		})
		return nil
	},
}

// handleClientEvent prints ev and reports whether the session goes on.
func handleClientEvent(ev gamenet.Event) bool {
	switch ev.Type {
	case gamenet.EventConnected:
		pterm.Success.Printfln("Connected to %q", ev.Channel.Name())
	case gamenet.EventDisconnected:
		if ev.Err != nil {
			pterm.Error.Printfln("Disconnected: %v", ev.Err)
		} else {
			pterm.Warning.Printfln("Disconnected: %s", ev.Reason)
		}
		return false
	case gamenet.EventMessageReceived:
		if chat, ok := ev.Message.(*ChatMessage); ok {
			pterm.Printfln("<%s> %s", chat.From, chat.Text)
		}
	}
	return true
}

// readLines forwards non-empty stdin lines until EOF.
func readLines() <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				out <- line
			}
		}
	}()
	return out
}

func init() {
	clientCmd.Flags().StringVar(&clientFlags.host, "host", "", "server host (default from config)")
	clientCmd.Flags().IntVar(&clientFlags.serverPort, "server-port", 0, "server port (0 uses the configured port)")
	clientCmd.Flags().IntVarP(&clientFlags.port, "port", "p", 0, "local UDP port (0 uses the configured port)")
	clientCmd.Flags().StringVarP(&clientFlags.name, "name", "n", "", "player name")
}
