package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/oracle"
)

func newDBCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the local hash database",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.Oracle.HashDB == "" {
				return fmt.Errorf("--hash-db or REDIRECTGUARD_ORACLE_HASH_DB is required")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.cfg.Oracle.HashDB, "hash-db", opts.cfg.Oracle.HashDB, "SQLite hash database path")

	withStore := func(fn func(cmd *cobra.Command, store *oracle.HashStore, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := oracle.OpenHashStore(cmd.Context(), opts.cfg.Oracle.HashDB)
			if err != nil {
				return err
			}
			defer store.Close()
			return fn(cmd, store, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add-threat <url-expression> <threat>",
			Short: "List a URL expression (host/path) as unsafe",
			Args:  cobra.ExactArgs(2),
			RunE: withStore(func(cmd *cobra.Command, store *oracle.HashStore, args []string) error {
				threat, ok := model.ParseThreatType(args[1])
				if !ok {
					return fmt.Errorf("unknown threat type %q", args[1])
				}
				if err := store.AddThreat(cmd.Context(), args[0], threat); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[+] %s listed as %s\n", args[0], threat)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "allow <url-expression>",
			Short: "Add a URL expression to the high-confidence allowlist",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(cmd *cobra.Command, store *oracle.HashStore, args []string) error {
				if err := store.AddAllowlisted(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[+] %s allowlisted\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "skip-domain <domain>",
			Short: "Exempt a registrable domain and its chains from checking",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(cmd *cobra.Command, store *oracle.HashStore, args []string) error {
				if err := store.AddSkipDomain(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[+] %s exempted\n", args[0])
				return nil
			}),
		},
	)
	return cmd
}
