package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"expirybot/internal/app"
)

func migrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending ledger schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := app.Migrate(c.cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "applied %d migration(s)\n", n)
			return nil
		},
	}
}
