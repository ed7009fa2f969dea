package poller

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"eurobot/internal/lottery"
	"eurobot/internal/metrics"
	"eurobot/internal/notifier/fanout"
	"eurobot/internal/storage"
	"eurobot/pkg/logx"
)

const (
	DefaultTimezone = "Europe/Rome"
	DefaultAt       = "23:47"
)

type State int32

const (
	StateWaiting State = iota
	StateChecking
)

func (s State) String() string {
	if s == StateChecking {
		return "checking"
	}
	return "waiting"
}

type Outcome string

const (
	OutcomeBusy        Outcome = "busy"
	OutcomeSourceError Outcome = "source_error"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeRegression  Outcome = "regression"
	OutcomeAnnounced   Outcome = "announced"
	OutcomeAborted     Outcome = "aborted"
	OutcomeStoreError  Outcome = "store_error"
	OutcomeFanoutError Outcome = "fanout_error"
	OutcomePanic       Outcome = "panic"
)

// RegressionPolicy decides what a tick does when the source reports a draw
// older than the last announced one.
type RegressionPolicy string

const (
	RegressionSkip     RegressionPolicy = "skip"
	RegressionAnnounce RegressionPolicy = "announce"
)

func ParseRegressionPolicy(s string) (RegressionPolicy, bool) {
	switch RegressionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RegressionSkip:
		return RegressionSkip, true
	case RegressionAnnounce:
		return RegressionAnnounce, true
	default:
		return "", false
	}
}

type Config struct {
	Schedule     string // overrides At/Weekdays when set
	Timezone     string
	At           string // HH:MM
	Weekdays     []string
	CheckOnStart bool
	TickTimeout  time.Duration // 0 = no bound beyond per-send timeouts
	OnRegression RegressionPolicy
}

type Source interface {
	FetchLatest(ctx context.Context) (lottery.DrawResult, error)
}

type Fanout interface {
	NotifyAll(ctx context.Context, draw lottery.DrawResult, regs map[int64]lottery.Selection) (fanout.DeliveryReport, error)
}

type Deps struct {
	Source        Source
	Registrations storage.Registrations
	Cache         storage.DrawCache
	Fanout        Fanout
	Audit         storage.Auditor  // optional
	Metrics       *metrics.Metrics // optional
}

// TickResult describes one tick. Report is set whenever a fan-out ran.
type TickResult struct {
	Outcome   Outcome
	DrawDate  string
	Previous  string
	Report    *fanout.DeliveryReport
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type Snapshot struct {
	State    State
	Schedule string
	Timezone string
	Next     time.Time
	Prev     time.Time
	LastTick *TickResult
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	spec   string
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	entry  cron.EntryID

	deps Deps
	log  logx.Logger

	state atomic.Int32

	runCtx    context.Context
	runCancel context.CancelFunc
	stopped   bool
	ticks     sync.WaitGroup

	lastMu sync.RWMutex
	last   *TickResult
}
