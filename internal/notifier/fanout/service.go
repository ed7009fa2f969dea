package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"eurobot/internal/lottery"
	"eurobot/internal/metrics"
	kit "eurobot/internal/transport"
	"eurobot/pkg/logx"
)

func New(cfg Config, sender kit.Sender, log logx.Logger, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log.With(logx.String("comp", "fanout")), metrics: m}
	s.Apply(cfg)
	return s
}

// Apply swaps limits. A fan-out already running keeps the settings it started with.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) settings() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Last returns the most recent report, if any.
func (s *Service) Last() (DeliveryReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return DeliveryReport{}, false
	}
	cp := *s.last
	cp.Failures = append([]DeliveryFailure(nil), s.last.Failures...)
	return cp, true
}

// NotifyAll sends the announcement for draw to every registration.
//
// A failing recipient never stops the others and is not retried. If ctx ends
// before everyone was attempted, the rest are counted as skipped and the
// error wraps ErrFanoutIncomplete.
func (s *Service) NotifyAll(ctx context.Context, draw lottery.DrawResult, regs map[int64]lottery.Selection) (DeliveryReport, error) {
	cfg, lim := s.settings()
	rep := DeliveryReport{
		ID:        uuid.NewString(),
		DrawDate:  draw.Date,
		Total:     len(regs),
		StartedAt: time.Now(),
	}
	log := s.log.With(logx.String("job", rep.ID), logx.String("draw", draw.Date))
	log.Info("fan-out started", logx.Int("total", rep.Total), logx.Int("concurrency", cfg.Concurrency), logx.Int("rps", cfg.RatePerSec))

	ids := make([]int64, 0, len(regs))
	for uid := range regs {
		ids = append(ids, uid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var mu sync.Mutex
	// plain Group: one recipient's error must not cancel the rest
	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)
	for _, uid := range ids {
		if ctx.Err() != nil {
			break
		}
		uid, sel := uid, regs[uid]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := lim.Wait(ctx); err != nil {
				return nil
			}
			err := s.sendOne(ctx, cfg, uid, draw, sel)
			if err != nil && ctx.Err() != nil {
				// interrupted by shutdown, not a recipient problem
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				rep.Failures = append(rep.Failures, DeliveryFailure{UserID: uid, Reason: err})
				log.Warn("delivery failed", logx.Int64("user_id", uid), logx.Err(err))
				return nil
			}
			rep.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	rep.Skipped = rep.Total - rep.Succeeded - rep.Failed
	rep.Duration = time.Since(rep.StartedAt)
	sort.Slice(rep.Failures, func(i, j int) bool { return rep.Failures[i].UserID < rep.Failures[j].UserID })

	s.metrics.AddDeliveries(rep.Succeeded, rep.Failed, rep.Skipped)
	s.metrics.SetRegistered(rep.Total)
	s.mu.Lock()
	cp := rep
	s.last = &cp
	s.mu.Unlock()

	fields := []logx.Field{
		logx.Int("ok", rep.Succeeded),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("took", rep.Duration),
	}
	if !rep.Complete() {
		log.Warn("fan-out interrupted", fields...)
		if cause := ctx.Err(); cause != nil {
			return rep, fmt.Errorf("%w: %d of %d not attempted: %w", ErrFanoutIncomplete, rep.Skipped, rep.Total, cause)
		}
		return rep, fmt.Errorf("%w: %d of %d not attempted", ErrFanoutIncomplete, rep.Skipped, rep.Total)
	}
	log.Info("fan-out finished", fields...)
	return rep, nil
}

func (s *Service) sendOne(ctx context.Context, cfg Config, uid int64, draw lottery.DrawResult, sel lottery.Selection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in delivery", logx.Int64("user_id", uid), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: panic: %v", lottery.ErrDeliveryFailed, r)
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	text := lottery.RenderAnnouncement(draw, sel)
	if _, err := s.sender.SendText(sctx, kit.UserTarget(uid), text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		return fmt.Errorf("%w: user %d: %w", lottery.ErrDeliveryFailed, uid, err)
	}
	return nil
}
