package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-fluency-battle/internal/config"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the room store schema (SQLite tables, MongoDB indexes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lg := setupLogging(cmd.ErrOrStderr(), cfg)

			be, err := openBackend(cmd.Context(), cfg, &lg)
			if err != nil {
				return err
			}
			defer func() { _ = be.close(context.Background()) }()

			if err := be.migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s: %w", be.driver, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", be.driver)
			return nil
		},
	}
}
