package main

import (
	"github.com/spf13/cobra"

	"carrierwave/internal/config"
)

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Print the host account balance of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := config.ParseAddress(args[0])
			if err != nil {
				return err
			}
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			bal, err := db.Balance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			cmd.Printf("%s %d\n", addr.Hex(), bal)
			return nil
		},
	}
}
