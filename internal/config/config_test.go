package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eurobot/pkg/logx"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const yamlConfig = `
telegram:
  token: "123:abc"
  owner_user_ids: [11, 22]
schedule:
  at: "21:30"
  weekdays: [tue, fri]
  on_regression: announce
fanout:
  concurrency: 8
storage:
  driver: sqlite
  path: ./bot.db
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	y, err := Decode("bot.yaml", []byte(yamlConfig))
	require.NoError(t, err)
	require.Equal(t, "123:abc", y.Telegram.Token)
	require.Equal(t, []int64{11, 22}, y.Telegram.OwnerUserIDs)
	require.Equal(t, []string{"tue", "fri"}, y.Schedule.Weekdays)
	require.Equal(t, 8, y.Fanout.Concurrency)

	j, err := Decode("bot.json", []byte(`{"telegram":{"token":"t"},"storage":{"driver":"memory"}}`))
	require.NoError(t, err)
	require.Equal(t, "memory", j.Storage.Driver)
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()
	_, err := Decode("bot.json", []byte(`{"telegram":{"token":"t","tokn":"x"}}`))
	require.ErrorContains(t, err, "unknown field")

	_, err = Decode("bot.yaml", []byte("plugins:\n  x: 1\n"))
	require.ErrorContains(t, err, "unknown field")

	_, err = Decode("bot.json", []byte(`{} {}`))
	require.ErrorContains(t, err, "trailing data")
}

func TestEnvOverridesAndDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: TelegramConfig{Token: "from-file"}}
	ApplyEnv(cfg, env(map[string]string{
		EnvToken:       "from-env",
		EnvSourceURL:   "http://draws.local",
		EnvStoragePath: "/var/lib/eurobot",
		EnvPort:        "9090",
	}))
	ApplyDefaults(cfg)

	require.Equal(t, "from-env", cfg.Telegram.Token)
	require.Equal(t, "http://draws.local", cfg.Source.BaseURL)
	require.Equal(t, "/var/lib/eurobot", cfg.Storage.Path)
	require.True(t, cfg.Health.Enabled)
	require.Equal(t, ":9090", cfg.Health.Addr)
	require.Equal(t, "file", cfg.Storage.Driver)
	require.Equal(t, DefaultPollTimeout, cfg.Telegram.PollTimeout)
	require.True(t, Bool(cfg.Schedule.CheckOnStart, false))
	require.True(t, Bool(cfg.Telegram.DropPending, false))
	require.True(t, cfg.Logging.Console)
	require.NoError(t, Validate(cfg))

	// an explicit address beats PORT
	cfg2 := &Config{}
	ApplyEnv(cfg2, env(map[string]string{EnvPort: "9090", EnvHealthAddr: "127.0.0.1:7000"}))
	require.Equal(t, "127.0.0.1:7000", cfg2.Health.Addr)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Schedule: ScheduleConfig{OnRegression: "panic", TickTimeout: "soon"},
		Storage:  StorageConfig{Driver: "redis"},
		Logging:  LoggingConfig{Telegram: LoggingTelegram{Enabled: true}},
	}
	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{"telegram.token", "schedule.tick_timeout", "on_regression", "redis_url", "log_chat_id"} {
		require.ErrorContains(t, err, want)
	}

	_, err = ParseDuration("x", "-1s")
	require.Error(t, err)
	d, err := ParseDuration("x", "")
	require.NoError(t, err)
	require.Zero(t, d)
}

func TestManagerLoadRunsValidator(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "bot.yaml", yamlConfig)

	m := NewManager(p)
	m.SetEnv(env(nil))
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Fanout.Concurrency > 4 {
			return errors.New("too many")
		}
		return nil
	})
	_, err := m.Load(context.Background())
	require.ErrorContains(t, err, "too many")
	require.Nil(t, m.Get())

	m.SetValidator(nil)
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Same(t, cfg, m.Get())
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "bot.json", `{"telegram":{"token":"t"},"fanout":{"concurrency":2}}`)

	m := NewManager(p)
	m.SetEnv(env(nil))
	m.SetLogger(logx.Nop())
	m.SetDebounce(20 * time.Millisecond)
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// a broken edit is rejected and the old config stays
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "bot.json", `{"telegram":{"token":"t"},"fanout":{"concurrency":"x"}}`)
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 2, m.Get().Fanout.Concurrency)

	writeFile(t, dir, "bot.json", `{"telegram":{"token":"t"},"fanout":{"concurrency":6}}`)
	select {
	case cfg := <-sub:
		require.Equal(t, 6, cfg.Fanout.Concurrency)
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
	require.Equal(t, 6, m.Get().Fanout.Concurrency)
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "a", OwnerUserIDs: []int64{1}}, Storage: StorageConfig{Driver: "file"}}
	b := &Config{Telegram: TelegramConfig{Token: "b", OwnerUserIDs: []int64{1, 2}}, Storage: StorageConfig{Driver: "sqlite"}, Fanout: FanoutConfig{Concurrency: 3}}

	ch := Diff(a, b)
	require.Equal(t, []string{"fanout", "telegram"}, ch.Sections)
	require.Equal(t, []string{"storage", "telegram.token"}, ch.Restart)
	require.True(t, Diff(a, a).Empty())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	const key = "EUROBOT_TEST_DOTENV_VALUE"
	p := writeFile(t, dir, ".env", key+"=hello\n")
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), p))
	require.Equal(t, "hello", os.Getenv(key))
}
