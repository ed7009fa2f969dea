package systemd

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/require"
)

// tests below replace the package-level notify hook and must not run in parallel

type recorder struct {
	mu    sync.Mutex
	sent  []string
	pings atomic.Int32
}

func (r *recorder) install(t *testing.T) {
	t.Helper()
	prev := notify
	notify = func(_ bool, state string) (bool, error) {
		r.mu.Lock()
		r.sent = append(r.sent, state)
		r.mu.Unlock()
		if state == daemon.SdNotifyWatchdog {
			r.pings.Add(1)
		}
		return true, nil
	}
	t.Cleanup(func() { notify = prev })
}

func TestLifecycleMessages(t *testing.T) {
	r := &recorder{}
	r.install(t)

	_, _ = Ready()
	_, _ = Status("polling")
	_, _ = Stopping()
	require.Equal(t, []string{daemon.SdNotifyReady, "STATUS=polling", daemon.SdNotifyStopping}, r.sent)
}

func TestWatchdogSkipsUnhealthy(t *testing.T) {
	r := &recorder{}
	r.install(t)

	var healthy atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watchdog(ctx, 5*time.Millisecond, healthy.Load) }()

	time.Sleep(30 * time.Millisecond)
	require.Zero(t, r.pings.Load())

	healthy.Store(true)
	require.Eventually(t, func() bool { return r.pings.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestWatchdogDisabled(t *testing.T) {
	require.NoError(t, Watchdog(context.Background(), 0, nil))
}

func TestRealNotifyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	ok, err := Ready()
	require.NoError(t, err)
	require.False(t, ok)
}
