package app

import (
	"context"
	"errors"
	"time"

	"expirybot/internal/dispatch"
	"expirybot/internal/task/engine"
	logx "expirybot/pkg/logx"
)

const (
	vendorJob = "vendor-alerts"
	clientJob = "client-alerts"
)

// Runner is the part of the orchestrator a scheduled job drives.
type Runner interface {
	RunVendors(ctx context.Context, opt dispatch.Options) (dispatch.Summary, error)
	RunClients(ctx context.Context, opt dispatch.Options) (dispatch.Summary, error)
}

// Registrar is the scheduler surface used to (re)register jobs.
type Registrar interface {
	AddScheduleOpt(name, schedule string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) error
	Remove(name string) bool
}

// dispatchJob runs one scheduled campaign. A run already in flight is not a
// failure; anything else fails the task without a retry since the next
// trigger picks the campaign up again.
func dispatchJob(r Runner, ch dispatch.Channel, log logx.Logger) func(context.Context) error {
	run := r.RunVendors
	if ch == dispatch.ChannelClient {
		run = r.RunClients
	}
	log = log.With(logx.String("channel", string(ch)))
	return func(ctx context.Context) error {
		sum, err := run(ctx, dispatch.Options{Trigger: dispatch.TriggerSchedule})
		switch {
		case errors.Is(err, dispatch.ErrRunInFlight):
			log.Debug("scheduled run skipped, already in flight")
			return nil
		case err != nil:
			return engine.NoRetry(err)
		}
		if sum.Message != "" {
			log.Info("scheduled run finished", logx.String("run_id", sum.RunID), logx.String("message", sum.Message))
		}
		return nil
	}
}

// registerJobs upserts enabled jobs and removes disabled ones.
func registerJobs(reg Registrar, r Runner, jobs []jobSpec, log logx.Logger) error {
	var errs []error
	for _, j := range jobs {
		if !j.enabled {
			if reg.Remove(j.name) {
				log.Info("schedule removed", logx.String("name", j.name))
			}
			continue
		}
		if err := reg.AddScheduleOpt(j.name, j.schedule, j.timeout, engine.TaskOptions{}, dispatchJob(r, j.channel, log)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
