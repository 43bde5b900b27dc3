package main

import (
	"time"

	"github.com/spf13/cobra"

	"expirybot/internal/app"
	"expirybot/internal/gateway"
	"expirybot/internal/storage"
)

type statusReport struct {
	Gateway gateway.Status   `json:"gateway"`
	Time    string           `json:"current_time"`
	Recent  []storage.Record `json:"recent"`
	Total   int              `json:"total"`
	Error   string           `json:"ledger_error,omitempty"`
}

func statusCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway connection state and the latest ledger rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				rep := statusReport{
					Gateway: a.Gateway().ConnectionState(cmd.Context()),
					Time:    time.Now().In(a.Location()).Format("02/01/2006 15:04"),
				}
				page, err := a.Ledger().List(cmd.Context(), storage.Query{Page: 1, PageSize: limit})
				if err != nil {
					rep.Error = err.Error()
				} else {
					rep.Recent, rep.Total = page.Items, page.Total
				}
				return c.printJSON(rep)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "ledger rows to show")
	return cmd
}
