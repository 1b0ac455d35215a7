package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"amd/internal/appstate"
	"amd/internal/commands"
	"amd/internal/config"
	"amd/internal/eventbus"
	"amd/internal/exclusions"
	"amd/internal/observability/debug"
	"amd/internal/reactionroles"
	"amd/internal/roster"
	rtsup "amd/internal/runtime/supervisor"
	"amd/internal/scheduler"
	"amd/internal/storage"
	"amd/internal/transport"
	"amd/internal/transport/discord"
	"amd/internal/transport/telegram"
	logx "amd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	state   *appstate.State

	registry *scheduler.Registry
	sched    *scheduler.Scheduler
	router   *commands.Router
	roles    *reactionroles.Handler
	debug    *debug.Server

	updates chan transport.Update
}

// Status is rendered by the debug server's /healthz.
type Status struct {
	LogLevel      string                `json:"log_level"`
	Jobs          []scheduler.JobStatus `json:"jobs"`
	App           rtsup.Snapshot        `json:"app"`
	Scheduler     *rtsup.Snapshot       `json:"scheduler,omitempty"`
	Adapter       *rtsup.Snapshot       `json:"adapter,omitempty"`
	EventsDropped uint64                `json:"events_dropped"`
	LogSink       *logx.SinkStats       `json:"log_sink,omitempty"`
}

// New loads and validates the config and wires every component. Nothing is
// started and no network connection is opened.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Telegram operator sink needs its own bot token; without one the
	// sink stays a no-op even when enabled.
	var sender logx.TextSender
	if tok := strings.TrimSpace(cfg.Logging.Telegram.Token); tok != "" {
		s, err := telegram.New(telegram.Config{Token: tok})
		if err != nil {
			return nil, err
		}
		sender = s
	}
	logSvc, log := logx.New(cfg.LogxConfig(), sender)

	ad, err := discord.New(discord.Config{Token: cfg.Discord.Token}, log.With(logx.Comp("discord")))
	if err != nil {
		return nil, err
	}

	a, err := build(cfgm, cfg, ad, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	return a, nil
}

// build wires components around an already created platform adapter.
func build(cfgm *config.Manager, cfg *config.Config, ad transport.Adapter, logSvc *logx.Service, log logx.Logger) (*App, error) {
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	rosterTimeout, err := config.ParseDurationOrDefault("roster.timeout", cfg.Roster.Timeout, roster.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	rc := roster.New(roster.Config{URL: cfg.Roster.URL, Timeout: rosterTimeout}, log.With(logx.Comp("roster")))

	exclPath := strings.TrimSpace(cfg.Exclusions.Path)
	if exclPath == "" {
		exclPath = exclusions.DefaultPath
	}
	excl := exclusions.New(exclPath, log)

	var logCtl appstate.LogControl
	if logSvc != nil {
		logCtl = logSvc
	}
	state := appstate.New(appstate.NewReactionRoles(cfg.ReactionRoleMap()), logCtl, ad)

	reg, err := buildRegistry(cfg, rc, excl, log)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(log.With(logx.Comp("scheduler")), scheduler.WithBus(bus))

	cmdTimeout, err := config.ParseDurationOrDefault("commands.timeout", cfg.Commands.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	owners := make([]string, 0, len(cfg.Discord.OwnerIDs))
	for _, id := range cfg.Discord.OwnerIDs {
		owners = append(owners, id.String())
	}
	router := commands.New(commands.Config{
		Prefix:  cfg.Prefix(),
		Owners:  owners,
		Timeout: cmdTimeout,
	}, commands.Deps{
		Platform:   ad,
		Exclusions: excl,
		Jobs:       sched,
		LogLevel:   logCtl,
		Audit:      store,
		Bus:        bus,
	}, log)

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.Comp("app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		state:    state,
		registry: reg,
		sched:    sched,
		router:   router,
		roles:    reactionroles.New(cfg.Discord.RolesMessageID.String(), state, log),
		updates:  make(chan transport.Update, 256),
	}
	if d := cfg.Debug; d != nil && strings.TrimSpace(d.Addr) != "" {
		a.debug = debug.New(debug.Config{
			Addr:          strings.TrimSpace(d.Addr),
			Token:         d.Token,
			AllowInsecure: d.AllowInsecure,
		}, func() any { return a.Status() }, log)
	}
	return a, nil
}

// Status reports scheduler and goroutine state.
func (a *App) Status() Status {
	st := Status{
		Jobs: a.sched.Snapshot(),
		App:  a.sup.Snapshot(),
	}
	if a.state.Log != nil {
		st.LogLevel = a.state.Log.Level()
	}
	if a.logs != nil {
		sink := a.logs.SinkStats()
		st.LogSink = &sink
	}
	if a.bus != nil {
		st.EventsDropped = a.bus.Dropped()
	}
	st.Scheduler = snapshotOf(a.sched)
	st.Adapter = snapshotOf(a.adapter)
	return st
}

func snapshotOf(v any) *rtsup.Snapshot {
	sp, ok := v.(interface{ Supervisor() *rtsup.Supervisor })
	if !ok {
		return nil
	}
	sup := sp.Supervisor()
	if sup == nil {
		return nil
	}
	snap := sup.Snapshot()
	return &snap
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.sched.Start(a.sup.Context(), a.registry, a.state); err != nil {
		return err
	}

	a.sup.Go0("dispatch", func(c context.Context) {
		a.dispatchLoop(c)
	})

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.logEvent(e)
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.debug != nil {
		a.sup.Go0("debug.http", func(c context.Context) {
			// optional; a failure here never stops the daemon
			if err := a.debug.Run(c); err != nil {
				a.log.Error("debug server stopped", logx.Err(err))
			}
		})
	}

	a.sup.Go0("systemd", func(c context.Context) {
		runSystemd(c, a.log.With(logx.Comp("systemd")))
	})

	a.log.Info("app started",
		logx.Int("jobs", a.registry.Len()),
		logx.Int("reaction_roles", a.state.ReactionRoles.Len()),
	)
	return nil
}

// dispatchLoop is the only goroutine running commands and reaction handlers.
func (a *App) dispatchLoop(ctx context.Context) {
	a.log.Info("dispatcher started", logx.Int("queue_cap", cap(a.updates)))
	defer a.log.Info("dispatcher stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			a.dispatch(ctx, up)
		}
	}
}

func (a *App) dispatch(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		a.router.Handle(ctx, up.Message)
	case transport.UpdateReactionAdd, transport.UpdateReactionRemove:
		a.roles.Handle(ctx, up)
	}
}

func (a *App) logEvent(e eventbus.Event) {
	switch ev := e.Data.(type) {
	case scheduler.JobEvent:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.String("job", ev.Job),
			logx.String("run_id", ev.RunID),
			logx.Duration("took", ev.Duration),
		)
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// applyConfig applies the hot sections of a reloaded config. Everything else
// is fixed for the process lifetime and only reported.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.ChangedSections(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	// Re-applying an unchanged logging section would undo a runtime
	// set_log_level.
	if a.logs != nil && slices.Contains(sections, "logging") {
		a.logs.Apply(newCfg.LogxConfig())
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sections})
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	a.sup.Cancel()

	// Each step is bounded so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
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
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 3*time.Second, a.sched.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Stop)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
