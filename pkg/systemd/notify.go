// Package systemd reports service state to systemd via sd_notify. Every call
// is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd start-up finished (Type=notify units).
func Ready() (bool, error) { return notify(false, daemon.SdNotifyReady) }

// Stopping tells systemd the service is shutting down.
func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) { return notify(false, "STATUS="+msg) }

// WatchdogInterval returns how often to ping, or 0 when WatchdogSec is not set.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	// ping at half the deadline
	return d / 2
}

// Watchdog pings systemd every interval until ctx is done. healthy gates each
// ping so a wedged process gets restarted.
func Watchdog(ctx context.Context, interval time.Duration, healthy func() bool) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && !healthy() {
				continue
			}
			if _, err := notify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
