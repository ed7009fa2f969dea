package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"eurobot/internal/lottery"
	"eurobot/internal/notifier/fanout"
	"eurobot/internal/query"
	"eurobot/internal/storage"
	"eurobot/internal/task/poller"
	kit "eurobot/internal/transport"
	"eurobot/internal/transport/telegram/router"
	"eurobot/pkg/logx"
)

type fakeSource struct {
	draw lottery.DrawResult
	err  error
}

func (f fakeSource) FetchLatest(context.Context) (lottery.DrawResult, error) { return f.draw, f.err }

type recorder struct {
	mu    sync.Mutex
	texts []string
	opts  []*kit.SendOptions
}

func (r *recorder) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	r.opts = append(r.opts, opt)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

var draw = lottery.DrawResult{Date: "2024-05-10", Numbers: []int{3, 15, 22, 41, 47}, Stars: []int{2, 9}}

type harness struct {
	h     *Handlers
	cmds  map[string]router.Command
	out   *recorder
	store *storage.Memory
}

func newHarness(t *testing.T, src fakeSource) *harness {
	t.Helper()
	st := storage.NewMemory()
	q := query.New(src, st, st, logx.Nop(), nil)
	h := New(q, nil, nil, logx.Nop())
	cmds := map[string]router.Command{}
	for _, c := range h.Commands(func(bool) string { return "HELP" }) {
		cmds[c.Name] = c
	}
	return &harness{h: h, cmds: cmds, out: &recorder{}, store: st}
}

func (hs *harness) run(t *testing.T, name string, from int64, owner bool, args ...string) error {
	t.Helper()
	cmd, ok := hs.cmds[name]
	require.True(t, ok, name)
	return cmd.Handle(context.Background(), &router.Request{
		Chat:    kit.UserTarget(from),
		FromID:  from,
		Command: name,
		Args:    args,
		Owner:   owner,
		Sender:  hs.out,
		Logger:  logx.Nop(),
	})
}

func TestRegisterThenCheck(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, fakeSource{draw: draw})

	require.NoError(t, hs.run(t, "setnumeri", 7, false, "3", "15", "30", "41", "50", "2", "11"))
	require.Equal(t, lottery.RenderSaved(lottery.Selection{3, 15, 30, 41, 50, 2, 11}), hs.out.last())

	require.NoError(t, hs.run(t, "controlla", 7, false))
	require.Equal(t, lottery.RenderCheck(draw, lottery.Selection{3, 15, 30, 41, 50, 2, 11}), hs.out.last())
	require.Equal(t, "HTML", hs.out.opts[len(hs.out.opts)-1].ParseMode)

	require.NoError(t, hs.run(t, "imieinumeri", 7, false))
	require.Equal(t, "🎯 Numeri principali: 3 - 15 - 30 - 41 - 50\n⭐ Numeri Stella: 2 - 11", hs.out.last())
}

func TestRegisterRejectsBadInput(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, fakeSource{draw: draw})

	for _, args := range [][]string{
		{"1", "2", "3"},
		{"1", "2", "3", "4", "5", "6", "13"},
		{"1", "1", "3", "4", "5", "6", "7"},
		{"a", "2", "3", "4", "5", "6", "7"},
	} {
		require.NoError(t, hs.run(t, "setnumeri", 7, false, args...))
		require.True(t, strings.HasPrefix(hs.out.last(), msgUsage), args)
	}
	_, ok, err := hs.store.GetSelection(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckUnregistered(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, fakeSource{draw: draw})
	require.NoError(t, hs.run(t, "controlla", 9, false))
	require.Equal(t, msgNotRegistered, hs.out.last())

	require.NoError(t, hs.run(t, "imieinumeri", 9, false))
	require.Equal(t, msgNotRegistered, hs.out.last())
}

func TestCheckSourceDown(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, fakeSource{err: fmt.Errorf("fetch: %w", lottery.ErrSourceUnavailable)})
	require.NoError(t, hs.store.PutSelection(context.Background(), 7, lottery.Selection{1, 2, 3, 4, 5, 1, 2}))

	require.NoError(t, hs.run(t, "controlla", 7, false))
	require.Equal(t, msgSourceDown, hs.out.last())
}

func TestStartShowsHelpToOwners(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, fakeSource{})
	require.NoError(t, hs.run(t, "start", 7, false))
	require.Equal(t, msgWelcome, hs.out.last())

	require.NoError(t, hs.run(t, "start", 1, true))
	require.True(t, strings.HasSuffix(hs.out.last(), "\n\nHELP"))
}

func TestStatoIsOwnerOnly(t *testing.T) {
	t.Parallel()
	hs := newHarness(t, fakeSource{})
	require.Equal(t, router.AccessOwnerOnly, hs.cmds["stato"].Access)
}

type fixedStatus poller.Snapshot

func (f fixedStatus) Snapshot() poller.Snapshot { return poller.Snapshot(f) }

type fixedReport fanout.DeliveryReport

func (f fixedReport) Last() (fanout.DeliveryReport, bool) { return fanout.DeliveryReport(f), true }

func TestStatusText(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	snap := poller.Snapshot{
		State:    poller.StateWaiting,
		Schedule: "47 23 * * 2,5",
		Timezone: "UTC",
		Next:     time.Date(2024, 5, 10, 23, 47, 0, 0, time.UTC),
		LastTick: &poller.TickResult{
			Outcome:   poller.OutcomeAnnounced,
			DrawDate:  "2024-05-07",
			StartedAt: time.Date(2024, 5, 7, 23, 47, 0, 0, time.UTC),
		},
	}
	report := fanout.DeliveryReport{
		DrawDate:  "2024-05-07",
		Total:     3,
		Succeeded: 2,
		Failed:    1,
		Failures:  []fanout.DeliveryFailure{{UserID: 42, Reason: errors.New("bot was blocked by the user")}},
		Duration:  1500 * time.Millisecond,
	}
	h := New(nil, fixedStatus(snap), fixedReport(report), logx.Nop())

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "status", []byte(h.statusText(now)))
}

func TestStatusTextWithoutScheduler(t *testing.T) {
	t.Parallel()
	h := New(nil, nil, nil, logx.Nop())
	require.Equal(t, "📊 <b>Stato</b>\nScheduler non attivo", h.statusText(time.Now()))
}
