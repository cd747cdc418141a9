package commands

import (
	"github.com/spf13/cobra"
)

var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vaultctl",
		Short:        "Inspect share vault conversions and deployment profiles",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "config/config.json", "vault config file")
	root.AddCommand(previewCmd(), networksCmd())
	return root
}

func Execute() error {
	return newRootCmd().Execute()
}
