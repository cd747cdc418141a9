package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultlabs/share-vault/src/vault/config"
)

func networksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List deployment networks and their signer accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadNetworks(configFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range c.NetworkNames() {
				n, _ := c.Network(name)
				marker := " "
				if name == c.DefaultNetwork {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-10s chain %-9d %s\n", marker, name, n.ChainId, n.Url)
				signers, err := n.SignerAddresses()
				if err != nil {
					return err
				}
				for _, s := range signers {
					fmt.Fprintf(out, "    signer %s\n", s.Hex())
				}
			}
			return nil
		},
	}
	return cmd
}
