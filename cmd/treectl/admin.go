package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/treetest-engine/internal/cache"
	"github.com/terra-clan/treetest-engine/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	var dsn, dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("--dsn is required")
			}
			if err := storage.MigrateFromDSN(cmd.Context(), dsn, storage.MigrationSource(dir)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string")
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (default: embedded)")
	return cmd
}

func newCacheCmd() *cobra.Command {
	var opts cache.Options

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the shared compiled tree cache",
	}
	cmd.PersistentFlags().StringVar(&opts.Address, "redis-address", "localhost:6379", "Redis address")
	cmd.PersistentFlags().StringVar(&opts.Password, "redis-password", "", "Redis password")
	cmd.PersistentFlags().IntVar(&opts.DB, "redis-db", 0, "Redis database")

	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Drop every cached tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DialTimeout = 5 * time.Second
			client, err := cache.NewClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			n, err := cache.NewRedisTreeCache(client, 0).Flush(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d cached trees removed\n", n)
			return nil
		},
	})
	return cmd
}
