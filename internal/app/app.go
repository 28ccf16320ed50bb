// Package app wires configuration into running sessions.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nudge/internal/config"
	"nudge/internal/dispatch"
	"nudge/internal/eventbus"
	"nudge/internal/history"
	"nudge/internal/httpapi"
	"nudge/internal/metrics"
	"nudge/internal/notifier"
	"nudge/internal/reminder"
	rtsup "nudge/internal/runtime/supervisor"
	"nudge/internal/session"
	"nudge/internal/storage"
	"nudge/internal/stream"
	"nudge/internal/transport"
	"nudge/internal/transport/telegram"
	logx "nudge/pkg/logx"
)

// StopReason is logged when the app stops.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	sup  *rtsup.Supervisor

	bus      *eventbus.Bus
	metrics  *metrics.Metrics
	store    storage.Store
	hist     *history.Store
	surface  transport.Surface
	notif    *notifier.Service
	stream   *stream.Client
	groups   []reminder.Group
	loc      *time.Location
	sessions *session.Registry
	api      *httpapi.Server
}

// NewApp loads cfgPath and builds every component without starting any.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogging(cfg))
	a := &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      eventbus.New(),
		metrics:  metrics.New(),
		sessions: session.NewRegistry(),
	}
	comp := func(name string) logx.Logger { return log.With(logx.String("comp", name)) }

	fail := func(err error) (*App, error) {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	var err error
	sc := mapStorage(cfg)
	a.store, err = storage.Open(sc, comp("storage"))
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	histOpts := []history.Option{history.WithLogger(comp("history"))}
	if n := cfg.Reminder.HistoryCapacity; n > 0 {
		histOpts = append(histOpts, history.WithCapacity(n))
	}
	a.hist = history.New(a.store, histOpts...)

	if a.loc, err = mapLocation(cfg); err != nil {
		return fail(err)
	}
	b, err := mapBackend(cfg, comp("backend"))
	if err != nil {
		return fail(fmt.Errorf("sources: %w", err))
	}
	if a.groups, err = mapGroups(cfg, b); err != nil {
		return fail(err)
	}
	if a.stream, err = mapStream(cfg, a.metrics, comp("stream")); err != nil {
		return fail(fmt.Errorf("stream: %w", err))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Platform.Surface)) {
	case "telegram":
		tg, err := telegram.New(mapTelegram(cfg), comp("telegram"))
		if err != nil {
			return fail(fmt.Errorf("telegram: %w", err))
		}
		a.surface = tg
	case "log":
		a.surface = transport.LogSurface{Log: comp("platform")}
	default:
		a.surface = transport.Disabled{}
	}
	a.notif = notifier.New(mapNotifier(cfg), a.surface, a.bus, a.metrics, comp("notifier"))

	if cfg.API.Enabled {
		tokens, err := mapAPITokens(cfg)
		if err != nil {
			return fail(fmt.Errorf("api: %w", err))
		}
		a.api = httpapi.New(httpapi.Config{
			Addr:              cfg.API.Addr,
			AppBaseURL:        cfg.Dispatch.AppBaseURL,
			Tokens:            tokens,
			Profiler:          cfg.API.Profiler,
			ReadHeaderTimeout: config.Duration(cfg.API.ReadHeaderTimeout, 0),
			ShutdownTimeout:   config.Duration(cfg.API.ShutdownTimeout, 0),
		}, a.sessions,
			httpapi.WithBus(a.bus),
			httpapi.WithGatherer(a.metrics.Registry),
			httpapi.WithHealth(a.Err),
			httpapi.WithLogger(comp("api")))
	}
	return a, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Sessions exposes the open sessions.
func (a *App) Sessions() *session.Registry { return a.sessions }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(true))
	a.notif.Start(a.sup.Context())

	for _, u := range a.cfg.Users {
		s, err := session.Open(a.sup.Context(), mapSession(a.cfg, u, a.groups, a.loc), session.Deps{
			Store:    a.store,
			History:  a.hist,
			Stream:   a.stream,
			Platform: a.notif,
			Bus:      a.bus,
			Metrics:  a.metrics,
			Log:      a.log.With(logx.String("comp", "session")),
		})
		if err != nil {
			a.sessions.CloseAll()
			return fmt.Errorf("open session %q: %w", u.ID, err)
		}
		a.sessions.Add(s)
	}

	if a.api != nil {
		a.sup.GoRestart("http.api", a.api.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second), rtsup.WithMaxRestarts(5))
	}

	if a.cfg.Dispatch.Verbose {
		events, unsub := a.bus.Subscribe(eventbus.Filter{}, 128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.String("user", e.User))
				}
			}
		})
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	updates := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		a.reloadLoop(c, updates)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("users", len(a.cfg.Users)),
		logx.Int("groups", len(a.groups)),
		logx.Bool("stream", a.stream != nil),
		logx.String("surface", a.surface.Name()),
		logx.Bool("api", a.api != nil))
	return nil
}

// reloadLoop applies logging changes live; other sections need a restart.
func (a *App) reloadLoop(ctx context.Context, updates <-chan *config.Config) {
	applied := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeConfigChange(applied, next)
			if len(sections) == 0 {
				a.log.Debug("config reload received; no effective changes")
				continue
			}
			a.logs.Apply(mapLogging(next))
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			if !config.HotReloadable(sections) {
				a.log.Warn("config changed; restart required for non-logging sections", fields...)
			} else {
				a.log.Info("config reloaded", fields...)
			}
			applied = next
		}
	}
}

// Stop tears down in dependency order: sessions (poller, stream,
// dispatcher), platform pipeline, supervised loops, storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sessions", 5*time.Second, func(context.Context) error { a.sessions.CloseAll(); return nil })
	step("notifier", 3*time.Second, a.notif.Stop)
	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

var _ dispatch.Platform = (*notifier.Service)(nil)
