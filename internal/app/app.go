package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"stillalive/internal/api"
	"stillalive/internal/config"
	"stillalive/internal/eventbus"
	"stillalive/internal/events"
	"stillalive/internal/mailer"
	"stillalive/internal/metrics"
	"stillalive/internal/runtime/supervisor"
	"stillalive/internal/storage"
	"stillalive/internal/task/engine"
	"stillalive/internal/task/scheduler"
	"stillalive/internal/will"
	logx "stillalive/pkg/logx"
)

// Schedule names registered with the scheduler.
const (
	ScheduleSweep  = "will.sweep"
	ScheduleRelay  = "will.relay"
	ScheduleOutbox = "metrics.outbox"

	outboxGaugeEvery = "1m"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.Store
	metrics *metrics.Metrics
	mail    *mailer.Limited
	pub     events.Publisher

	engine *engine.Service
	sched  *scheduler.Service

	sweeper *will.Sweeper
	relay   *will.Relay
	will    willSettings

	http    httpSettings
	httpSrv *http.Server
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.Component("app"))
	bus := eventbus.New()

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a, err := build(cfg, store, bus, logSvc, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

func build(cfg *config.Config, store *storage.Store, bus eventbus.Bus, logSvc *logx.Service, log logx.Logger) (*App, error) {
	engCfg, _ := mapTaskEngineConfig(cfg)
	schedCfg, _ := mapSchedulerConfig(cfg)
	mailCfg, _ := mapMailConfig(cfg)
	ws, _ := mapWillConfig(cfg)
	hs, _ := mapHTTPConfig(cfg)

	m := metrics.New()
	mail, err := mailer.New(mailCfg, log.With(logx.Component("mailer")))
	if err != nil {
		return nil, err
	}

	var pub events.Publisher = &events.NoopPublisher{}
	if cfg.Events.Enabled {
		np, err := events.NewNATSPublisher(strings.TrimSpace(cfg.Events.NATSURL))
		if err != nil {
			return nil, err
		}
		pub = np
	}

	eng := engine.New(engCfg, log.With(logx.Component("taskengine")), bus)
	sched := scheduler.New(schedCfg, eng, log.With(logx.Component("scheduler")))

	dispatcher := will.NewDispatcher(store, mail, ws.Dispatch, log.With(logx.Component("dispatch")))
	relay := will.NewRelay(store, dispatcher, eng, ws.Relay, log.With(logx.Component("relay")), bus, m)
	sweeper := will.NewSweeper(store, relay, ws.Sweep, log.With(logx.Component("sweep")), bus, will.WithSweepMetrics(m))

	return &App{
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
		mail:    mail,
		pub:     pub,
		engine:  eng,
		sched:   sched,
		sweeper: sweeper,
		relay:   relay,
		will:    ws,
		http:    hs,
	}, nil
}

func (a *App) Store() *storage.Store { return a.store }

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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.engine.Start(runCtx)
	if err := a.registerSchedules(a.will); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	} else {
		a.log.Warn("scheduler disabled; sweeps only run from the CLI")
	}

	// Pick up rows left pending or leased by a previous process.
	a.sup.Go0("relay.recover", func(c context.Context) {
		if n, err := a.relay.Tick(c); err != nil {
			a.log.Warn("relay recovery failed", logx.Err(err))
		} else if n > 0 {
			a.log.Info("relay recovered notifications", logx.Int("count", n))
		}
	})

	if _, ok := a.pub.(*events.NoopPublisher); !ok {
		fwd := events.NewForwarder(a.bus, a.pub, a.log.With(logx.Component("events")), a.cfgm.Get().Events.Types...)
		a.sup.Go("events.forward", fwd.Run)
	}

	if err := a.startHTTP(); err != nil {
		return err
	}

	busEvents, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.observe", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-busEvents:
				if !ok {
					return
				}
				if strings.HasPrefix(e.Type, "task.") {
					a.metrics.TaskEvent(e.Type)
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateConfig(cfg) })
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts and apply only the newest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("sweep_schedule", a.will.SweepSchedule),
		logx.Duration("relay_interval", a.will.RelayInterval),
		logx.Bool("http", a.http.Enabled),
	)
	return nil
}

func (a *App) registerSchedules(ws willSettings) error {
	if err := a.sched.AddSchedule(ScheduleSweep, ws.SweepSchedule, ws.SweepTimeout, func(ctx context.Context) error {
		_, err := a.sweeper.Run(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}
	// Store hiccups on these two are retried by the engine; delivery
	// failures are retried through the outbox instead.
	housekeeping := engine.TaskOptions{RetryMax: 2, RetryBase: 5 * time.Second, RetryMaxDelay: 20 * time.Second}
	if err := a.sched.AddScheduleOpt(ScheduleRelay, "every:"+ws.RelayInterval.String(), 0, housekeeping, func(ctx context.Context) error {
		_, err := a.relay.Tick(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("register relay: %w", err)
	}
	if err := a.sched.AddScheduleOpt(ScheduleOutbox, outboxGaugeEvery, 10*time.Second, housekeeping, a.refreshOutboxGauge); err != nil {
		return fmt.Errorf("register outbox gauge: %w", err)
	}
	return nil
}

func (a *App) refreshOutboxGauge(ctx context.Context) error {
	counts, err := a.store.CountOutbox(ctx)
	if err != nil {
		return err
	}
	a.metrics.SetOutbox(counts)
	return nil
}

func (a *App) startHTTP() error {
	if !a.http.Enabled {
		return nil
	}
	var metricsHandler http.Handler
	if a.http.Metrics {
		metricsHandler = a.metrics.Handler()
	}
	opts := []api.Option{
		api.WithMetrics(a.metrics, metricsHandler),
		api.WithPprof(a.http.Pprof),
		api.WithState(func(ctx context.Context) any { return a.debugState(ctx) }),
	}
	srv := api.New(a.store, a.http.API, a.log.With(logx.Component("api")), a.bus, opts...)

	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", a.http.Addr, err)
	}
	a.httpSrv = &http.Server{
		Handler:      srv.Handler(),
		ReadTimeout:  a.http.ReadTimeout,
		WriteTimeout: a.http.WriteTimeout,
	}
	a.sup.Go("http.serve", func(context.Context) error {
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	a.log.Info("http listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// applyConfig applies the parts of a reload that can change live. Storage,
// mail, http and events need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(mapLogging(newCfg))

	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}

	if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prev := a.sched.Enabled()
		a.sched.Apply(schedCfg)
		switch {
		case prev && !schedCfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prev && schedCfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if ws, err := mapWillConfig(newCfg); err != nil {
		a.log.Warn("invalid will config; keeping previous", logx.Err(err))
	} else if ws.SweepSchedule != a.will.SweepSchedule || ws.RelayInterval != a.will.RelayInterval || ws.SweepTimeout != a.will.SweepTimeout {
		if err := a.registerSchedules(ws); err != nil {
			a.log.Warn("reschedule failed", logx.Err(err))
		} else {
			a.will.SweepSchedule, a.will.RelayInterval, a.will.SweepTimeout = ws.SweepSchedule, ws.RelayInterval, ws.SweepTimeout
		}
	}

	for _, s := range sections {
		switch s {
		case "storage", "mail", "http", "events":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", a.http.ShutdownTimeout, func(c context.Context) error {
		if a.httpSrv == nil {
			return nil
		}
		return a.httpSrv.Shutdown(c)
	})
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// Interrupted deliveries are handed back to the outbox by the engine's Done callbacks.
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("resources", 2*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() error {
	var errs []error
	if a.pub != nil {
		errs = append(errs, a.pub.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
