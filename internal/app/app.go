// Package app builds the notification service from its config file and
// owns its lifecycle: start order, hot reload and bounded shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expirybot/internal/catalog"
	"expirybot/internal/dispatch"
	"expirybot/internal/eventbus"
	"expirybot/internal/gateway"
	"expirybot/internal/governor"
	"expirybot/internal/httpapi"
	"expirybot/internal/lock"
	"expirybot/internal/metrics"
	"expirybot/internal/selector"
	"expirybot/internal/storage"
	"expirybot/internal/task/engine"
	"expirybot/internal/task/scheduler"
	"expirybot/internal/telemetry"
	logx "expirybot/pkg/logx"
	"expirybot/pkg/systemd"
)

type App struct {
	cfgPath string
	version string

	cfgm *ConfigManager
	sup  *Supervisor

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	tel  *telemetry.Provider

	gw     *gateway.Client
	gov    *governor.Governor
	ledger storage.Ledger
	cat    *catalog.Reader
	sel    *selector.Selector
	locks  *lock.Runs
	disp   *dispatch.Service

	engine  *engine.Service
	sched   *scheduler.Service
	metrics *metrics.Metrics
	http    *httpapi.Server

	answerer dispatch.Answerer
	notify   bool
}

type Option func(*App)

// WithVersion is reported in telemetry resources.
func WithVersion(v string) Option { return func(a *App) { a.version = v } }

// WithAnswerer installs the reply producer for inbound webhook messages.
func WithAnswerer(ans dispatch.Answerer) Option { return func(a *App) { a.answerer = ans } }

// WithSystemdNotify sends READY/STOPPING and watchdog pings to systemd.
func WithSystemdNotify(enabled bool) Option { return func(a *App) { a.notify = enabled } }

// New loads cfgPath and builds every component. Nothing runs until Start;
// one-shot commands may use the accessors directly and then call Close.
func New(ctx context.Context, cfgPath string, opts ...Option) (_ *App, err error) {
	a := &App{cfgPath: cfgPath, version: "dev"}
	for _, o := range opts {
		o(a)
	}

	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a.cfgm = cfgm

	// The gateway is also the alert sink, so it exists before the logging
	// service and keeps a console logger of its own.
	gwCfg, err := mapGatewayConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.gw = gateway.New(gwCfg, gateway.WithLogger(logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "gateway"))))

	logSvc, root := logx.New(mapLogConfig(cfg), a.gw)
	a.logs = logSvc
	a.root = root
	a.log = root.With(logx.String("comp", "app"))

	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.tel, err = telemetry.Setup(ctx, mapTelemetryConfig(cfg, a.version), root.With(logx.String("comp", "telemetry")))
	if err != nil {
		return nil, err
	}
	a.bus = eventbus.New()

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		a.ledger, err = storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		a.ledger = storage.Disabled()
		a.log.Warn("storage disabled; campaigns will abort every recipient")
	}

	cc, err := mapCatalogConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.cat, err = catalog.Open(ctx, cc, root.With(logx.String("comp", "catalog")))
	if err != nil {
		return nil, err
	}

	dc, so, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	gc, err := mapGovernorConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sel = selector.New(a.cat, so)
	a.gov = governor.New(gc)

	dopts := []dispatch.Option{
		dispatch.WithBus(a.bus),
		dispatch.WithLogger(root.With(logx.String("comp", "dispatch"))),
		dispatch.WithContacts(a.cat),
	}
	lc, lockOn, err := mapLockConfig(cfg)
	if err != nil {
		return nil, err
	}
	if lockOn {
		a.locks, err = lock.Dial(ctx, lc)
		if err != nil {
			return nil, err
		}
		a.locks.SetLogger(root.With(logx.String("comp", "lock")))
		dopts = append(dopts, dispatch.WithLocker(a.locks))
		a.log.Info("run lock enabled", logx.String("addr", lc.Addr), logx.Duration("ttl", lc.TTL))
	}
	if a.answerer != nil {
		dopts = append(dopts, dispatch.WithAnswerer(a.answerer))
	}
	a.disp = dispatch.New(dc, a.gw, a.ledger, a.sel, a.gov, dopts...)

	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(ec, root.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, root.With(logx.String("comp", "scheduler")))
	jobs, err := mapJobs(cfg)
	if err != nil {
		return nil, err
	}
	if err := registerJobs(a.sched, a.disp, jobs, root.With(logx.String("comp", "jobs"))); err != nil {
		return nil, err
	}

	a.metrics = metrics.New()
	return a, nil
}

func (a *App) Config() *Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Dispatch() *dispatch.Service { return a.disp }

func (a *App) Ledger() storage.Ledger { return a.ledger }

func (a *App) Gateway() *gateway.Client { return a.gw }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Location is the dispatch calendar timezone.
func (a *App) Location() *time.Location { return a.location() }

func (a *App) location() *time.Location {
	if a.cfgm != nil {
		if loc, err := loadLocation("dispatch.timezone", a.cfgm.Get().Dispatch.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the long-lived parts: task engine, scheduler, HTTP listener,
// metrics consumer and config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	a.sup.Go("metrics.consume", func(c context.Context) error {
		return a.metrics.Consume(c, a.bus)
	})

	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			return err
		}
		deps := httpapi.Deps{
			Dispatch:  a.disp,
			History:   a.ledger,
			Gateway:   a.gw,
			Scheduler: a.sched,
			Location:  a.location(),
		}
		if cfg.HTTP.Metrics {
			deps.Metrics = a.metrics.Handler()
		}
		a.http = httpapi.New(a.sup.Context(), hc, deps, a.root.With(logx.String("comp", "http")))
		a.sup.Go("http.serve", func(context.Context) error { return a.http.ListenAndServe() })
	} else {
		a.log.Info("http disabled")
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.notify {
		if _, err := systemd.Ready(); err != nil {
			a.log.Warn("sd_notify ready failed", logx.Err(err))
		}
		if every, err := systemd.WatchdogInterval(); err != nil {
			a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		} else if every > 0 {
			a.sup.Go("systemd.watchdog", func(c context.Context) error { return systemd.Watchdog(c, every) })
		}
	}

	a.log.Info("app started", logx.String("version", a.version))
	return nil
}

// Stop shuts down in order: triggers first, then in-flight work, then the
// stores. Every step is bounded so one stuck component cannot stall exit.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.notify {
		_, _ = systemd.Stopping()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", 5*time.Second, func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Shutdown(c)
	})
	// Cancelling the app context stops running campaigns at their next
	// pacing wait; the part being sent still completes.
	a.sup.Cancel()
	step("taskengine", 30*time.Second, a.engine.Stop)
	step("dispatch", 30*time.Second, a.disp.Drain)
	step("storage", 2*time.Second, func(context.Context) error { return a.ledger.Close() })
	step("catalog", time.Second, func(context.Context) error { return a.cat.Close() })
	step("lock", time.Second, func(context.Context) error { return a.locks.Close() })
	step("telemetry", 5*time.Second, a.tel.Shutdown)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() {
	var errs []error
	if a.disp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.disp.Drain(ctx))
		cancel()
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.cat != nil {
		errs = append(errs, a.cat.Close())
	}
	errs = append(errs, a.locks.Close())
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(context.Background()))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("close", logx.Err(err))
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
