// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eurobot/internal/bot"
	"eurobot/internal/config"
	"eurobot/internal/drawsource"
	"eurobot/internal/health"
	"eurobot/internal/metrics"
	"eurobot/internal/notifier/fanout"
	"eurobot/internal/query"
	"eurobot/internal/runtime/supervisor"
	"eurobot/internal/storage"
	"eurobot/internal/task/poller"
	kit "eurobot/internal/transport"
	telegram "eurobot/internal/transport/telegram/adapter"
	"eurobot/internal/transport/telegram/router"
	"eurobot/pkg/logx"
	"eurobot/pkg/systemd"
)

type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	metrics *metrics.Metrics
	store   storage.Store

	adapter *telegram.Adapter
	cmdm    *router.CommandManager
	fan     *fanout.Service
	poll    *poller.Service
	health  *health.Server

	started time.Time
	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateConfig(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapAdapterConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	m := metrics.New()
	source := drawsource.New(mapSourceConfig(cfg), log.With(logx.String("comp", "drawsource")), m)
	fan := fanout.New(mapFanoutConfig(cfg), ad, log.With(logx.String("comp", "fanout")), m)

	pcfg, err := mapPollerConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	poll, err := poller.New(pcfg, poller.Deps{
		Source:        source,
		Registrations: store,
		Cache:         store,
		Fanout:        fan,
		Audit:         store,
		Metrics:       m,
	}, log.With(logx.String("comp", "poller")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	q := query.New(source, store, store, log, m)
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, router.Options{
		Owners:         cfg.Telegram.OwnerUserIDs,
		DefaultTimeout: 30 * time.Second,
	})
	handlers := bot.New(q, poll, fan, log)
	cmdm.SetRegistry(handlers.Commands(cmdm.HelpText))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		metrics: m,
		store:   store,
		adapter: ad,
		cmdm:    cmdm,
		fan:     fan,
		poll:    poll,
		updates: make(chan kit.Update, 256),
	}
	if cfg.Health.Enabled {
		a.health = health.NewServer(log)
	}
	return a, nil
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

func (a *App) supervisors() map[string]supervisor.Counters {
	out := map[string]supervisor.Counters{"app": a.sup.Counters()}
	if s := a.adapter.Supervisor(); s != nil {
		out["telegram.adapter"] = s.Counters()
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.cmdm.PublishMenu(mctx); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	if err := a.poll.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	if a.health != nil {
		h := health.NewRouter(health.Deps{
			Status:      a.poll,
			Metrics:     a.metrics.Handler(),
			Supervisors: a.supervisors,
			Started:     a.started,
			Pprof:       cfg.Health.Pprof,
		})
		if err := a.health.Start(cfg.Health.Addr, h); err != nil {
			return fmt.Errorf("start health: %w", err)
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return systemd.Watchdog(c, iv, func() bool { return a.sup.Context().Err() == nil })
		})
	}
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.String("version", Version),
		logx.String("storage", cfg.Storage.Driver),
		logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)),
		logx.Bool("health", a.health != nil),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, applied *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts: keep only the latest
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
			a.apply(applied, newCfg)
			applied = newCfg
		}
	}
}

func (a *App) apply(oldCfg, newCfg *config.Config) {
	ch := config.Diff(oldCfg, newCfg)
	if len(ch.Restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("keys", strings.Join(ch.Restart, ",")))
	}
	if ch.Empty() {
		a.log.Info("config reloaded (no live changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.fan.Apply(mapFanoutConfig(newCfg))

	if pc, err := mapPollerConfig(newCfg); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	} else if err := a.poll.Reschedule(pc); err != nil {
		a.log.Warn("reschedule failed; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// background loops start unwinding now; the poller runs detached and is
	// stopped explicitly below
	a.sup.Cancel()

	var errs []error
	// the poller goes first so an in-flight fan-out can still use the adapter
	errs = append(errs, a.step(ctx, "poller", 20*time.Second, a.poll.Stop))
	errs = append(errs, a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop))
	if a.health != nil {
		errs = append(errs, a.step(ctx, "health", time.Second, a.health.Stop))
	}
	errs = append(errs, a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() }))
	errs = append(errs, a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait))

	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return fmt.Errorf("stop %s: %w", name, context.DeadlineExceeded)
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

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
		took := time.Since(start)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return fmt.Errorf("stop %s: %w", name, err)
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
		return fmt.Errorf("stop %s: %w", name, stepCtx.Err())
	}
}
