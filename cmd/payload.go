package main

import (
	"fmt"
	"os"

	"github.com/NgigiN/qris-gateway/internal/qris"
	"github.com/spf13/cobra"
)

func payloadCmd() *cobra.Command {
	var (
		amount int64
		static string
	)

	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Print the dynamic QRIS payload for an amount",
		Long: `Convert a static QRIS payload into a dynamic one carrying a fixed amount.

Examples:
  qris-gateway payload --amount 10000
  qris-gateway payload --amount 10000 --static "000201010211..."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if static == "" {
				if err := loadEnv(); err != nil {
					return err
				}
				static = os.Getenv("CODEQR")
			}
			if static == "" {
				return fmt.Errorf("no static payload: pass --static or set CODEQR")
			}

			payload, err := qris.BuildDynamicPayload(static, amount)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&amount, "amount", "a", 0, "amount in rupiah")
	cmd.Flags().StringVarP(&static, "static", "s", "", "static QRIS payload (defaults to CODEQR)")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
