package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultlabs/share-vault/src/utils"
	"github.com/vaultlabs/share-vault/src/vault/vault"
)

func previewCmd() *cobra.Command {
	var (
		totalAssets string
		totalSupply string
		decimals    uint8
		offset      uint8
	)
	cmd := &cobra.Command{
		Use:       "preview <deposit|mint|withdraw|redeem> <amount>",
		Short:     "Preview an operation against a vault state",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"deposit", "mint", "withdraw", "redeem"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := utils.OperationKind(args[0])
			shareDecimals := decimals + offset
			// amounts of deposit and withdraw are assets, of mint and redeem shares
			inDecimals, outDecimals, outUnit := decimals, shareDecimals, "shares"
			if kind == utils.OperationMint || kind == utils.OperationRedeem {
				inDecimals, outDecimals, outUnit = shareDecimals, decimals, "assets"
			}
			amount, err := utils.ParseAmount(args[1], inDecimals)
			if err != nil {
				return err
			}
			state := vault.State{DecimalsOffset: offset}
			if state.TotalAssets, err = utils.ParseAmount(totalAssets, decimals); err != nil {
				return fmt.Errorf("total assets: %w", err)
			}
			if state.TotalSupply, err = utils.ParseAmount(totalSupply, shareDecimals); err != nil {
				return fmt.Errorf("total supply: %w", err)
			}
			out, err := state.Preview(kind, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s %s\n", kind, args[1], utils.FormatAmount(out, outDecimals), outUnit)
			return nil
		},
	}
	cmd.Flags().StringVar(&totalAssets, "total-assets", "0", "assets held by the vault, in whole tokens")
	cmd.Flags().StringVar(&totalSupply, "total-supply", "0", "shares outstanding, in whole shares")
	cmd.Flags().Uint8Var(&decimals, "decimals", 18, "asset decimals")
	cmd.Flags().Uint8Var(&offset, "offset", 0, "vault decimals offset")
	return cmd
}
