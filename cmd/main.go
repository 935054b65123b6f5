package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/mstgnz/payflow/gateway/example"
	_ "github.com/mstgnz/payflow/gateway/paypal"
	_ "github.com/mstgnz/payflow/gateway/stripe"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "payflow",
		Short:         "Payment command and webhook reconciliation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(idempotencyCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
