// Package query answers on-demand checks and registrations for a single user.
package query

import (
	"context"
	"errors"
	"time"

	"eurobot/internal/lottery"
	"eurobot/internal/metrics"
	"eurobot/internal/storage"
	"eurobot/pkg/logx"
)

type Source interface {
	FetchLatest(ctx context.Context) (lottery.DrawResult, error)
}

type Service struct {
	source  Source
	regs    storage.Registrations
	audit   storage.Auditor
	log     logx.Logger
	metrics *metrics.Metrics
}

// New builds the service. audit and m may be nil.
func New(source Source, regs storage.Registrations, audit storage.Auditor, log logx.Logger, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{source: source, regs: regs, audit: audit, log: log.With(logx.String("comp", "query")), metrics: m}
}

// Handle checks the latest draw against the user's selection. The dedup cache
// is not consulted: the user always gets the current draw.
func (s *Service) Handle(ctx context.Context, userID int64) (string, error) {
	start := time.Now()
	text, date, err := s.handle(ctx, userID)

	outcome := "ok"
	switch {
	case errors.Is(err, lottery.ErrNotRegistered):
		outcome = "not_registered"
	case lottery.IsSourceError(err):
		outcome = "source_error"
	case err != nil:
		outcome = "error"
	}
	s.metrics.IncQuery(outcome)
	s.record(ctx, storage.AuditEntry{Action: storage.ActionCheck, UserID: userID, DrawDate: date, TookMS: time.Since(start).Milliseconds()}, err)
	return text, err
}

func (s *Service) handle(ctx context.Context, userID int64) (string, string, error) {
	sel, ok, err := s.regs.GetSelection(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", lottery.ErrNotRegistered
	}
	draw, err := s.source.FetchLatest(ctx)
	if err != nil {
		return "", "", err
	}
	return lottery.RenderCheck(draw, sel), draw.Date, nil
}

// Register parses args and replaces the user's selection. On error the
// previous selection is untouched.
func (s *Service) Register(ctx context.Context, userID int64, args []string) (lottery.Selection, error) {
	sel, err := lottery.ParseSelection(args)
	if err == nil {
		err = s.regs.PutSelection(ctx, userID, sel)
	}
	if err != nil {
		s.metrics.IncRegistration("rejected")
		s.record(ctx, storage.AuditEntry{Action: storage.ActionRegister, UserID: userID}, err)
		return nil, err
	}
	s.metrics.IncRegistration("ok")
	s.record(ctx, storage.AuditEntry{Action: storage.ActionRegister, UserID: userID, OK: 1}, nil)
	s.log.Info("selection saved", logx.Int64("user_id", userID))
	return sel, nil
}

// Selection returns the user's registered numbers.
func (s *Service) Selection(ctx context.Context, userID int64) (lottery.Selection, error) {
	sel, ok, err := s.regs.GetSelection(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lottery.ErrNotRegistered
	}
	return sel, nil
}

func (s *Service) record(ctx context.Context, e storage.AuditEntry, err error) {
	if s.audit == nil {
		return
	}
	if err != nil {
		e.Fail = 1
		e.Error = err.Error()
	}
	if aerr := s.audit.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		s.log.Warn("audit append failed", logx.Err(aerr))
	}
}
