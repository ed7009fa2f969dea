package fanout

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"eurobot/internal/metrics"
	kit "eurobot/internal/transport"
	"eurobot/pkg/logx"
)

// ErrFanoutIncomplete means the context ended before every recipient was attempted.
var ErrFanoutIncomplete = errors.New("fan-out incomplete")

const (
	DefaultConcurrency = 4
	DefaultRatePerSec  = 20
	DefaultSendTimeout = 10 * time.Second
)

type Config struct {
	Concurrency int
	RatePerSec  int
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

type DeliveryFailure struct {
	UserID int64
	Reason error
}

// DeliveryReport summarizes one NotifyAll. Total == Succeeded + Failed + Skipped.
type DeliveryReport struct {
	ID        string
	DrawDate  string
	Total     int
	Succeeded int
	Failed    int
	Failures  []DeliveryFailure
	Skipped   int
	StartedAt time.Time
	Duration  time.Duration
}

// Complete reports whether every recipient was attempted.
func (r DeliveryReport) Complete() bool { return r.Skipped == 0 }

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	last    *DeliveryReport

	sender  kit.Sender
	log     logx.Logger
	metrics *metrics.Metrics
}
