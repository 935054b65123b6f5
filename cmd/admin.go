package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mstgnz/payflow/idempotency"
	"github.com/mstgnz/payflow/infra/auth"
	"github.com/mstgnz/payflow/infra/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// bootstrap opens the store, which applies the schema
			e, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			fmt.Printf("Schema is up to date (%s)\n", e.cfg.DBDriver)
			return nil
		},
	}
}

func idempotencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Inspect and release idempotency records",
	}

	var olderThan time.Duration
	list := &cobra.Command{
		Use:   "list",
		Short: "List operations still marked in progress",
		Long: `List operations still marked in progress.

An in-progress record older than any plausible request means the process
died mid-call and the gateway outcome is unknown. Check the gateway before
releasing it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			records, err := e.store.ListInProgress(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No operations in progress")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tOPERATION\tSINCE\tAGE")
			for _, rec := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Key, rec.Operation,
					rec.CreatedAt.Format(time.RFC3339), time.Since(rec.CreatedAt).Truncate(time.Second))
			}
			return tw.Flush()
		},
	}
	list.Flags().DurationVar(&olderThan, "older-than", 5*time.Minute, "only show records at least this old")

	release := &cobra.Command{
		Use:   "release <key>",
		Short: "Release an in-progress record so the operation can be retried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			rec, err := e.store.GetRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec.State != idempotency.StateInProgress {
				return fmt.Errorf("record %s is %s, only in-progress records can be released", rec.Key, rec.State)
			}
			if err := e.store.Release(cmd.Context(), rec.Key); err != nil {
				return err
			}
			fmt.Printf("Released %s (%s)\n", rec.Key, rec.Operation)
			return nil
		},
	}

	cmd.AddCommand(list, release)
	return cmd
}

func auditCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "audit <payment-id>",
		Short: "Print the indexed event trail of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if e.audit == nil {
				return errors.New("OpenSearch indexing is disabled, set ENABLE_OPENSEARCH_LOGGING=true")
			}

			events, err := e.audit.PaymentEvents(cmd.Context(), args[0], size)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&size, "size", "n", 100, "maximum number of events")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <client-id>",
		Short: "Issue a bearer token for the payment API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set, the payment API is unauthenticated")
			}
			token, err := auth.NewJWTService(cfg.JWTSecret, cfg.JWTExpiry).GenerateToken(args[0])
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
