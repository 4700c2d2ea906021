package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/store"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the residence database",
	}
	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	cmd.AddCommand(newDBPurgeCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := db.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", paths.DatabasePath(cfg.Store), v)
			return nil
		},
	}
}

func newDBSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load accounts, spaces, contacts and articles",
		Long:  "Load accounts, spaces, contacts and articles from a YAML file, or the demo residence when no file is given. Existing rows with the same id are replaced.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var seed *store.Seed
			if file != "" {
				seed, err = store.ParseSeedFile(file)
			} else {
				seed, err = store.DemoSeed()
			}
			if err != nil {
				return err
			}

			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.ApplySeed(context.Background(), seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d accounts, %d spaces, %d contacts, %d articles\n",
				stats.Accounts, stats.Spaces, stats.Contacts, stats.Articles)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file (YAML)")
	return cmd
}

func newDBPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-contexts",
		Short: "Delete expired conversation contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := store.NewContextStore(db, cfg.Context.TTL).Purge(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d context(s)\n", n)
			return nil
		},
	}
}
