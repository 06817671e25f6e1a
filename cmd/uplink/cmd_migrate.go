package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/uplink/internal/migrations"
)

func newMigrateCmd() *cobra.Command {
	var rollbackTo int64

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Long: `Brings the database schema up to date. With --rollback-to the migrations
newer than the given version are reverted afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := cfg.InitializeDatastore()
			if err != nil {
				return err
			}
			defer ds.Close()

			migrator := migrations.NewMigrator(ds.DB)
			for _, m := range migrations.All() {
				migrator.AddMigration(m)
			}
			if cmd.Flags().Changed("rollback-to") {
				if err := migrator.RollbackTo(rollbackTo); err != nil {
					return err
				}
			}
			version, err := migrator.GetCurrentVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
	cmd.Flags().Int64Var(&rollbackTo, "rollback-to", 0, "revert migrations newer than this version")
	return cmd
}
