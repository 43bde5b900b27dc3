package app

import (
	"context"
	"slices"
	"strings"

	logx "expirybot/pkg/logx"
)

// reloadLoop applies committed config changes to the live components.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the live-tunable sections of newCfg. Sections that own
// connections or listeners only log that a restart is needed.
func (a *App) applyConfig(oldCfg, newCfg *Config) {
	sections, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if slices.Contains(sections, "dispatch") {
		if gc, err := mapGovernorConfig(newCfg); err != nil {
			a.log.Warn("invalid pacing config; keeping previous", logx.Err(err))
		} else {
			a.gov.Apply(gc)
		}
		if dc, so, err := mapDispatchConfig(newCfg); err != nil {
			a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		} else {
			a.disp.Apply(dc)
			a.sel.Apply(so)
		}
	}

	// An empty scheduler.timezone follows dispatch.timezone.
	if slices.Contains(sections, "scheduler") || slices.Contains(sections, "dispatch") {
		a.sched.Apply(mapSchedulerConfig(newCfg))
	}
	if slices.Contains(sections, "scheduler") {
		if jobs, err := mapJobs(newCfg); err != nil {
			a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
		} else if err := registerJobs(a.sched, a.disp, jobs, a.root.With(logx.String("comp", "jobs"))); err != nil {
			a.log.Warn("schedule registration failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}
