package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rangeclaims/api/internal/store"
)

func newMigrateCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back SQL migrations",
	}
	cmd.PersistentFlags().StringVar(&e.cfg.MigrationsDir, "dir", e.cfg.MigrationsDir, "directory holding *.up.sql and *.down.sql files")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := e.openDB(cmd.Context(), e.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(cmd.Context(), db, e.cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date\n")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", version)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := e.openDB(cmd.Context(), e.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := store.RollbackLatest(cmd.Context(), db, e.cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if version == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "nothing to roll back\n")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", version)
			return nil
		},
	})
	return cmd
}
