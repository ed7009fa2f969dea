package poller

import (
	"context"
	"errors"
	"time"

	"eurobot/internal/lottery"
	"eurobot/internal/notifier/fanout"
	"eurobot/internal/storage"
	"eurobot/pkg/logx"
)

// Tick runs one check: fetch, compare with the cache, fan out, mark announced.
// Only one tick can be checking at a time; a concurrent call returns OutcomeBusy
// without touching anything.
func (s *Service) Tick(ctx context.Context) (res TickResult) {
	if !s.state.CompareAndSwap(int32(StateWaiting), int32(StateChecking)) {
		s.deps.Metrics.IncTick(string(OutcomeBusy))
		return TickResult{Outcome: OutcomeBusy, StartedAt: time.Now()}
	}
	s.deps.Metrics.SetChecking(true)

	res.StartedAt = time.Now()
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		s.finish(ctx, res)
		s.state.Store(int32(StateWaiting))
		s.deps.Metrics.SetChecking(false)
	}()
	defer s.recoverTick(&res)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.TickTimeout)
		defer cancel()
	}

	draw, err := s.deps.Source.FetchLatest(ctx)
	if err != nil {
		res.Outcome, res.Err = OutcomeSourceError, err
		return res
	}
	res.DrawDate = draw.Date

	last, ok, err := s.deps.Cache.LastAnnounced(ctx)
	if err != nil {
		res.Outcome, res.Err = OutcomeStoreError, err
		return res
	}
	res.Previous = last

	if ok {
		switch cmp := lottery.CompareDates(draw.Date, last); {
		case cmp == 0:
			res.Outcome = OutcomeUnchanged
			return res
		case cmp < 0 && cfg.OnRegression != RegressionAnnounce:
			res.Outcome = OutcomeRegression
			return res
		}
	}

	regs, err := s.deps.Registrations.ListSelections(ctx)
	if err != nil {
		res.Outcome, res.Err = OutcomeStoreError, err
		return res
	}

	rep, err := s.deps.Fanout.NotifyAll(ctx, draw, regs)
	res.Report = &rep
	if err != nil {
		res.Err = err
		if errors.Is(err, fanout.ErrFanoutIncomplete) || ctx.Err() != nil {
			res.Outcome = OutcomeAborted
		} else {
			res.Outcome = OutcomeFanoutError
		}
		return res
	}

	if err := s.deps.Cache.MarkAnnounced(ctx, draw.Date); err != nil {
		// deliveries went out; the next tick will repeat them
		res.Outcome, res.Err = OutcomeStoreError, err
		return res
	}
	res.Outcome = OutcomeAnnounced
	return res
}

// finish logs, audits, counts and remembers the result.
func (s *Service) finish(ctx context.Context, res TickResult) {
	fields := []logx.Field{
		logx.String("outcome", string(res.Outcome)),
		logx.String("draw", res.DrawDate),
		logx.String("previous", res.Previous),
		logx.Duration("took", res.Duration),
	}
	if res.Report != nil {
		fields = append(fields,
			logx.String("job", res.Report.ID),
			logx.Int("ok", res.Report.Succeeded),
			logx.Int("failed", res.Report.Failed),
			logx.Int("skipped", res.Report.Skipped),
		)
	}
	switch res.Outcome {
	case OutcomeAnnounced:
		s.log.Info("draw announced", fields...)
	case OutcomeUnchanged:
		s.log.Debug("no new draw", fields...)
	case OutcomeRegression:
		s.log.Warn("source returned an older draw than the last announced; skipped", fields...)
	case OutcomeSourceError:
		s.log.Warn("draw source failed; will retry on next tick", append(fields, logx.Err(res.Err))...)
	default:
		s.log.Error("tick failed", append(fields, logx.Err(res.Err))...)
	}

	s.deps.Metrics.IncTick(string(res.Outcome))
	if res.Outcome == OutcomeAnnounced {
		if t, err := time.Parse(lottery.DateLayout, res.DrawDate); err == nil {
			s.deps.Metrics.SetLastAnnounced(t)
		}
	}

	if s.deps.Audit != nil && res.Report != nil {
		e := storage.AuditEntry{
			At:       res.StartedAt,
			Action:   storage.ActionFanout,
			DrawDate: res.DrawDate,
			OK:       res.Report.Succeeded,
			Fail:     res.Report.Failed,
			TookMS:   res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
		// the tick context may already be cancelled by shutdown
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := s.deps.Audit.AppendAudit(actx, e); err != nil {
			s.log.Warn("audit append failed", logx.Err(err))
		}
		cancel()
	}

	cp := res
	s.lastMu.Lock()
	s.last = &cp
	s.lastMu.Unlock()
}
