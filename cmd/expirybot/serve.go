package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"expirybot/internal/app"
	logx "expirybot/pkg/logx"
)

func serveCmd(c *cli) *cobra.Command {
	var (
		notify      bool
		stopTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the HTTP API and the webhook listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := app.New(ctx, c.cfgPath, app.WithVersion(version), app.WithSystemdNotify(notify))
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopUnknown
			select {
			case s := <-sigs:
				reason = app.StopSIGTERM
				if s == os.Interrupt {
					reason = app.StopSIGINT
				}
			case <-a.Done():
				reason = app.StopFatalError
				a.Logger().Error("app context done", logx.Err(a.Err()))
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&notify, "systemd", false, "send sd_notify READY/STOPPING and watchdog pings")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 60*time.Second, "upper bound for graceful shutdown")
	return cmd
}
