package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"expirybot/internal/app"
	"expirybot/internal/dispatch"
)

// withApp builds the app for a one-shot command and closes it afterwards.
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.New(ctx, c.cfgPath, app.WithVersion(version))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func runCmd(c *cli) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:       "run vendors|clients",
		Short:     "Run one notification campaign now and print its summary",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"vendors", "clients"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				opt := dispatch.Options{Force: force, Trigger: dispatch.TriggerCLI}
				var (
					sum dispatch.Summary
					err error
				)
				switch args[0] {
				case "vendors", "vendor":
					sum, err = a.Dispatch().RunVendors(cmd.Context(), opt)
				case "clients", "client":
					sum, err = a.Dispatch().RunClients(cmd.Context(), opt)
				default:
					return fmt.Errorf("unknown channel %q (want vendors or clients)", args[0])
				}
				if err != nil {
					return err
				}
				return c.printJSON(sum)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the once-a-day check")
	return cmd
}
