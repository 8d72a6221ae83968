package main

import (
	"os"

	"github.com/opd-ai/gamenet/config"
	"github.com/spf13/cobra"
)

var configDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after the config file and GAMENET_* environment
variables are applied. With --defaults the built-in settings are printed,
which is a convenient starting point for a new config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if !configDefaults {
			loaded, err := config.Load(configFile)
			if err != nil {
				return printError("Failed to load configuration", err)
			}
			cfg = loaded
		}
		out, err := cfg.Render()
		if err != nil {
			return printError("Failed to render configuration", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	configCmd.Flags().BoolVar(&configDefaults, "defaults", false, "print built-in defaults")
}
