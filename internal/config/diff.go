package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	"eurobot/pkg/logx"
)

// Change summarizes a reload for logging. Attrs never include secrets.
type Change struct {
	Sections []string
	// Restart lists changed settings that only take effect after a restart.
	Restart []string
	Attrs   []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares two effective configs.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	section := func(name string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, name)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	if !slices.Equal(o.OwnerUserIDs, n.OwnerUserIDs) || o.LogChatID != n.LogChatID {
		section("telegram",
			logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", n.LogChatID != 0),
		)
	}
	if o.Token != n.Token {
		ch.Restart = append(ch.Restart, "telegram.token")
	}
	if strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) {
		ch.Restart = append(ch.Restart, "telegram.poll_timeout")
	}
	if o.APIURL != n.APIURL || Bool(o.DropPending, true) != Bool(n.DropPending, true) {
		ch.Restart = append(ch.Restart, "telegram.api")
	}

	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		ch.Restart = append(ch.Restart, "source")
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		s := newCfg.Schedule
		section("schedule",
			logx.String("schedule.spec", s.Spec),
			logx.String("schedule.at", s.At),
			logx.String("schedule.timezone", s.Timezone),
			logx.String("schedule.on_regression", s.OnRegression),
		)
	}

	if oldCfg.Fanout != newCfg.Fanout {
		f := newCfg.Fanout
		section("fanout",
			logx.Int("fanout.concurrency", f.Concurrency),
			logx.Int("fanout.rate_per_sec", f.RatePerSec),
			logx.String("fanout.send_timeout", f.SendTimeout),
		)
	}

	// the store is opened once
	so, sn := oldCfg.Storage, newCfg.Storage
	if so.Driver != sn.Driver || so.Path != sn.Path || so.BusyTimeout != sn.BusyTimeout ||
		so.RedisURL != sn.RedisURL || so.KeyPrefix != sn.KeyPrefix || so.AuditMax != sn.AuditMax {
		ch.Restart = append(ch.Restart, "storage")
	}
	if oldCfg.Health != newCfg.Health {
		ch.Restart = append(ch.Restart, "health")
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		section("logging",
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}
