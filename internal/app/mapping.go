package app

import (
	"fmt"
	"strings"
	"time"

	"eurobot/internal/config"
	"eurobot/internal/drawsource"
	"eurobot/internal/notifier/fanout"
	"eurobot/internal/storage"
	"eurobot/internal/task/poller"
	telegram "eurobot/internal/transport/telegram/adapter"
	"eurobot/pkg/logx"
)

// Version is set at build time with -ldflags "-X eurobot/internal/app.Version=...".
var Version = "dev"

func mapAdapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout),
		DropPending: config.Bool(cfg.Telegram.DropPending, true),
		APIURL:      cfg.Telegram.APIURL,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapSourceConfig(cfg *config.Config) drawsource.Config {
	return drawsource.Config{
		BaseURL:   cfg.Source.BaseURL,
		Path:      cfg.Source.Path,
		Timeout:   config.MustDuration(cfg.Source.Timeout),
		UserAgent: "eurobot/" + Version,
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	s := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(s.Driver)),
		Path:        strings.TrimSpace(s.Path),
		BusyTimeout: config.MustDuration(s.BusyTimeout),
		RedisURL:    strings.TrimSpace(s.RedisURL),
		KeyPrefix:   s.KeyPrefix,
		AuditMax:    s.AuditMax,
	}
}

func mapFanoutConfig(cfg *config.Config) fanout.Config {
	return fanout.Config{
		Concurrency: cfg.Fanout.Concurrency,
		RatePerSec:  cfg.Fanout.RatePerSec,
		SendTimeout: config.MustDuration(cfg.Fanout.SendTimeout),
	}
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	s := cfg.Schedule
	policy, ok := poller.ParseRegressionPolicy(s.OnRegression)
	if !ok {
		return poller.Config{}, fmt.Errorf("schedule.on_regression: unknown policy %q", s.OnRegression)
	}
	return poller.Config{
		Schedule:     s.Spec,
		Timezone:     s.Timezone,
		At:           s.At,
		Weekdays:     s.Weekdays,
		CheckOnStart: config.Bool(s.CheckOnStart, true),
		TickTimeout:  config.MustDuration(s.TickTimeout),
		OnRegression: policy,
	}, nil
}

// validateConfig rejects configs the components would refuse. It runs on
// load and before every hot reload is committed.
func validateConfig(cfg *config.Config) error {
	pc, err := mapPollerConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := poller.BuildSpec(pc); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if tz := strings.TrimSpace(pc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Health.Enabled && strings.TrimSpace(cfg.Health.Addr) == "" {
		return fmt.Errorf("health.addr is required when health is enabled")
	}
	return nil
}
