package main

import (
	"strings"

	"github.com/spf13/cobra"

	"expirybot/internal/app"
	"expirybot/internal/dispatch"
)

func sendCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "send <phone> <message...>",
		Short: "Send one ad hoc message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Dispatch().SendOne(cmd.Context(), args[0], strings.Join(args[1:], " "))
				return c.printResult(res, err)
			})
		},
	}
}

func testCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "test <phone>",
		Short: "Send the canned connectivity test message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Dispatch().SendTest(cmd.Context(), args[0])
				return c.printResult(res, err)
			})
		},
	}
}

// printResult prints res even when the send failed so the ledger id is visible.
func (c *cli) printResult(res dispatch.SendResult, err error) error {
	if perr := c.printJSON(res); perr != nil {
		return perr
	}
	return err
}
