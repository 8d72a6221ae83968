package main

import (
	"strings"

	"github.com/opd-ai/gamenet/banlist"
	"github.com/opd-ai/gamenet/clock"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var banCmd = &cobra.Command{
	Use:   "ban",
	Short: "Manage the server ban list",
	Long: `Add, remove and list banned IP addresses. The ban list is the SQLite
file named by banlist.path; a running server reads it on every connect
request when banlist.enabled is set.`,
}

var banAddCmd = &cobra.Command{
	Use:   "add <ip> [reason...]",
	Short: "Ban an IP address",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openBanList()
		if err != nil {
			return err
		}
		defer done()

		reason := strings.Join(args[1:], " ")
		if reason == "" {
			reason = "banned"
		}
		if err := store.Ban(cmd.Context(), args[0], reason); err != nil {
			return printError("Failed to ban "+args[0], err)
		}
		pterm.Success.Printfln("Banned %s: %s", args[0], reason)
		return nil
	},
}

var banRemoveCmd = &cobra.Command{
	Use:     "remove <ip>",
	Aliases: []string{"rm"},
	Short:   "Lift a ban",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openBanList()
		if err != nil {
			return err
		}
		defer done()

		if err := store.Unban(cmd.Context(), args[0]); err != nil {
			return printError("Failed to unban "+args[0], err)
		}
		pterm.Success.Printfln("Unbanned %s", args[0])
		return nil
	},
}

var banListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bans",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openBanList()
		if err != nil {
			return err
		}
		defer done()

		entries, err := store.List(cmd.Context())
		if err != nil {
			return printError("Failed to list bans", err)
		}
		if len(entries) == 0 {
			pterm.Info.Println("No bans")
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(banTable(entries)).Render()
	},
}

func banTable(entries []banlist.Entry) pterm.TableData {
	data := pterm.TableData{{"Address", "Reason", "Since"}}
	for _, e := range entries {
		data = append(data, []string{e.Addr, e.Reason, e.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	return data
}

// openBanList opens the configured ban list. The returned func closes it
// along with the log output.
func openBanList() (*banlist.Store, func(), error) {
	cfg, closer, err := setup()
	if err != nil {
		return nil, nil, printError("Failed to load configuration", err)
	}
	store, err := banlist.Open(cfg.BanList.Path, clock.RealTimeProvider{})
	if err != nil {
		closer.Close()
		return nil, nil, printError("Failed to open ban list", err)
	}
	return store, func() {
		store.Close()
		closer.Close()
	}, nil
}

func init() {
	banCmd.AddCommand(banAddCmd)
	banCmd.AddCommand(banRemoveCmd)
	banCmd.AddCommand(banListCmd)
}
