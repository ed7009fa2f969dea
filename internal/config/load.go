package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPollTimeout = "10s"
	DefaultStorageDir  = "data"
	DefaultHealthAddr  = ":8080"
)

// Environment overrides. TELEGRAM_TOKEN matches the variable the bot was
// historically deployed with.
const (
	EnvToken       = "TELEGRAM_TOKEN"
	EnvSourceURL   = "EUROBOT_SOURCE_URL"
	EnvStoragePath = "EUROBOT_STORAGE_PATH"
	EnvHealthAddr  = "EUROBOT_HEALTH_ADDR"
	EnvPort        = "PORT"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Decode strictly decodes JSON or YAML (chosen by the path extension).
// Unknown keys and trailing data are errors.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvSourceURL)); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvStoragePath)); v != "" {
		cfg.Storage.Path = v
	}
	// PORT is what PaaS platforms hand out; an explicit address wins.
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		cfg.Health.Enabled = true
		cfg.Health.Addr = net.JoinHostPort("", v)
	}
	if v := strings.TrimSpace(getenv(EnvHealthAddr)); v != "" {
		cfg.Health.Enabled = true
		cfg.Health.Addr = v
	}
}

// ApplyDefaults fills omitted values.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Telegram.PollTimeout) == "" {
		cfg.Telegram.PollTimeout = DefaultPollTimeout
	}
	if cfg.Telegram.DropPending == nil {
		cfg.Telegram.DropPending = ptr(true)
	}
	if cfg.Schedule.CheckOnStart == nil {
		cfg.Schedule.CheckOnStart = ptr(true)
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "file"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" && cfg.Storage.Driver != "redis" {
		cfg.Storage.Path = DefaultStorageDir
	}
	if cfg.Health.Enabled && strings.TrimSpace(cfg.Health.Addr) == "" {
		cfg.Health.Addr = DefaultHealthAddr
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	// never run without a sink
	if !cfg.Logging.Console && !cfg.Logging.File.Enabled {
		cfg.Logging.Console = true
	}
}

func ptr[T any](v T) *T { return &v }

// Validate checks the values that can be checked without building components.
func Validate(cfg *Config) error {
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is empty (set it or %s)", EnvToken))
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"source.timeout":        cfg.Source.Timeout,
		"schedule.tick_timeout": cfg.Schedule.TickTimeout,
		"fanout.send_timeout":   cfg.Fanout.SendTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
	} {
		if _, err := ParseDuration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Schedule.OnRegression)) {
	case "", "skip", "announce":
	default:
		errs = append(errs, fmt.Errorf("schedule.on_regression: %q is not skip or announce", cfg.Schedule.OnRegression))
	}
	if cfg.Fanout.Concurrency < 0 || cfg.Fanout.RatePerSec < 0 {
		errs = append(errs, errors.New("fanout: concurrency and rate_per_sec must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem", "file", "sqlite", "sqlite3":
	case "redis":
		if strings.TrimSpace(cfg.Storage.RedisURL) == "" {
			errs = append(errs, errors.New("storage.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID == 0 {
		errs = append(errs, errors.New("logging.telegram requires telegram.log_chat_id"))
	}
	return errors.Join(errs...)
}

func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// MustDuration is for values already accepted by Validate.
func MustDuration(raw string) time.Duration {
	d, _ := ParseDuration("", raw)
	return d
}

// Bool reads an optional flag, treating nil as def.
func Bool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
