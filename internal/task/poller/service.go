package poller

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Rome must resolve on hosts without a zoneinfo database

	"github.com/robfig/cron/v3"

	"eurobot/pkg/logx"
)

func New(cfg Config, deps Deps, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		deps: deps,
		log:  log.With(logx.String("comp", "poller")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if err := s.applyLocked(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) applyLocked(cfg Config) error {
	if p, ok := ParseRegressionPolicy(string(cfg.OnRegression)); ok {
		cfg.OnRegression = p
	} else {
		return fmt.Errorf("invalid on_regression %q (use skip or announce)", cfg.OnRegression)
	}
	spec, err := BuildSpec(cfg)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.cfg = cfg
	s.spec = spec
	s.loc = s.loadLocation(cfg.Timezone)
	return nil
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start registers the cron entry and, with CheckOnStart, runs one tick right away.
//
// Ticks run on a context detached from ctx's cancellation so that a shutdown
// signal does not cut an in-flight fan-out; Stop decides when to give up.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.stopped = false
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := s.startCronLocked(); err != nil {
		s.runCancel()
		return err
	}
	next := s.c.Entry(s.entry).Next
	s.log.Info("service started",
		logx.String("spec", s.spec),
		logx.String("tz", s.loc.String()),
		logx.Time("next", next),
		logx.Bool("check_on_start", s.cfg.CheckOnStart),
	)
	if s.cfg.CheckOnStart {
		s.ticks.Add(1)
		go func() {
			defer s.ticks.Done()
			s.runTick()
		}()
	}
	return nil
}

func (s *Service) startCronLocked() error {
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	id, err := c.AddFunc(s.spec, s.fire)
	if err != nil {
		return err
	}
	s.c, s.entry = c, id
	c.Start()
	return nil
}

func (s *Service) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.ticks.Add(1)
	s.mu.Unlock()
	defer s.ticks.Done()
	s.runTick()
}

func (s *Service) runTick() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	res := s.Tick(ctx)
	if res.Outcome == OutcomeBusy {
		s.log.Debug("tick skipped (previous tick still checking)")
	}
}

// Stop stops triggering and waits for a running tick until ctx is done. Past
// that the tick's context is cancelled; an interrupted fan-out leaves the cache
// untouched so the draw is announced again on the next run.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	cancel := s.runCancel
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.ticks.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("tick still running at shutdown; cancelling")
		err = ctx.Err()
		if cancel != nil {
			cancel()
		}
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return err
}

// Reschedule applies a new cadence. A tick already running is not affected.
func (s *Service) Reschedule(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldSpec, oldTZ := s.spec, s.loc.String()
	if err := s.applyLocked(cfg); err != nil {
		return err
	}
	if s.c == nil || (oldSpec == s.spec && oldTZ == s.loc.String()) {
		return nil
	}
	s.c.Stop()
	if err := s.startCronLocked(); err != nil {
		return err
	}
	s.log.Info("rescheduled",
		logx.String("spec", s.spec),
		logx.String("tz", s.loc.String()),
		logx.Time("next", s.c.Entry(s.entry).Next),
	)
	return nil
}

func (s *Service) State() State { return State(s.state.Load()) }

func (s *Service) LastTick() (TickResult, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return TickResult{}, false
	}
	return *s.last, true
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	spec, loc, c, entry := s.spec, s.loc, s.c, s.entry
	s.mu.Unlock()

	snap := Snapshot{State: s.State(), Schedule: spec, Timezone: loc.String()}
	if c != nil {
		e := c.Entry(entry)
		snap.Next, snap.Prev = e.Next, e.Prev
	} else if sched, err := s.parser.Parse(spec); err == nil {
		snap.Next = sched.Next(time.Now().In(loc))
	}
	if last, ok := s.LastTick(); ok {
		snap.LastTick = &last
	}
	return snap
}

func (s *Service) recoverTick(res *TickResult) {
	if r := recover(); r != nil {
		s.log.Error("panic in tick", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		res.Outcome = OutcomePanic
		res.Err = fmt.Errorf("panic: %v", r)
	}
}
