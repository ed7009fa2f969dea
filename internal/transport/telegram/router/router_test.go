package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "eurobot/internal/transport"
	"eurobot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	menu []kit.BotCommand
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.text
	}
	return out
}

func message(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"/cmd", "a", "b c", "d'e"}, tokenizeCommandLine(`/cmd a "b c" d\'e`))
	require.Nil(t, tokenizeCommandLine("   "))
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	word, args, ok := splitCommand("/SetNumeri@euro_bot 1 2  3")
	require.True(t, ok)
	require.Equal(t, "setnumeri", word)
	require.Equal(t, []string{"1", "2", "3"}, args)

	_, _, ok = splitCommand("ciao")
	require.False(t, ok)
	_, _, ok = splitCommand("/@bot")
	require.False(t, ok)
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	require.Equal(t, "set_numeri", sanitizeTelegramCommand(" Set-Numeri "))
	require.Equal(t, "cmd_7up", sanitizeTelegramCommand("7up"))
	require.Equal(t, "", sanitizeTelegramCommand("!!!"))
	require.Len(t, sanitizeTelegramCommand("abcdefghijklmnopqrstuvwxyz0123456789"), 32)
}

func newManager(s *fakeSender, queue int) *CommandManager {
	return NewCommandManager(logx.Nop(), s, Options{Workers: 2, QueueSize: queue, Owners: []int64{1}})
}

func TestDispatchRoutesAliasesAndAccess(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	m := newManager(s, 16)

	handled := make(chan *Request, 4)
	m.SetRegistry([]Command{
		{Name: "setnumeri", Aliases: []string{"register"}, Handle: func(ctx context.Context, req *Request) error {
			handled <- req
			return nil
		}},
		{Name: "stato", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
			handled <- req
			return nil
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update, 8)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	updates <- message(42, "/register@euro_bot 1 2 3 4 5 6 7")
	select {
	case req := <-handled:
		require.Equal(t, "setnumeri", req.Command)
		require.Equal(t, int64(42), req.FromID)
		require.Len(t, req.Args, 7)
		require.False(t, req.Owner)
		require.NotEmpty(t, req.ReqID)
	case <-time.After(2 * time.Second):
		t.Fatal("command not dispatched")
	}

	updates <- message(42, "/stato")
	updates <- message(42, "/boh")
	updates <- message(42, "just chatting")
	updates <- message(1, "/stato")
	select {
	case req := <-handled:
		require.Equal(t, "stato", req.Command)
		require.True(t, req.Owner)
	case <-time.After(2 * time.Second):
		t.Fatal("owner command not dispatched")
	}

	require.Eventually(t, func() bool { return len(s.texts()) == 2 }, time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{DefaultReplies.Unauthorized, DefaultReplies.Unknown}, s.texts())

	cancel()
	require.NoError(t, <-done)
}

func TestRouteBusyWhenQueueFull(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	m := newManager(s, 1)
	m.SetRegistry([]Command{{Name: "controlla", Handle: func(context.Context, *Request) error { return nil }}})

	m.route(context.Background(), message(5, "/controlla"))
	m.route(context.Background(), message(5, "/controlla"))
	require.Equal(t, []string{DefaultReplies.Busy}, s.texts())
}

func TestPanicRecoverMiddleware(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()), MWTimeout(time.Second))
	err := h(context.Background(), &Request{Command: "x"})
	require.ErrorContains(t, err, "panic: boom")
}

func TestTimeoutMiddlewareSetsDeadline(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		return nil
	}, MWTimeout(time.Second))
	require.NoError(t, h(context.Background(), &Request{}))
}

func TestMenuAndHelp(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	m := newManager(s, 4)
	noop := func(context.Context, *Request) error { return nil }
	m.SetRegistry([]Command{
		{Name: "start", Aliases: []string{"help"}, Description: "benvenuto", Handle: noop},
		{Name: "setnumeri", Usage: "/setnumeri n1 n2 n3 n4 n5 s1 s2", Description: "salva i numeri", Handle: noop},
		{Name: "stato", Access: AccessOwnerOnly, Description: "stato del bot", Handle: noop},
		{Name: "segreto", Hidden: true, Handle: noop},
	})

	require.NoError(t, m.PublishMenu(context.Background()))
	require.Equal(t, []kit.BotCommand{
		{Command: "start", Description: "benvenuto"},
		{Command: "setnumeri", Description: "salva i numeri"},
	}, s.menu)

	public := m.HelpText(false)
	require.Contains(t, public, "/start - benvenuto")
	require.Contains(t, public, "<code>/setnumeri n1 n2 n3 n4 n5 s1 s2</code> - salva i numeri")
	require.NotContains(t, public, "stato")
	require.NotContains(t, public, "segreto")
	require.Contains(t, m.HelpText(true), "🔒 /stato - stato del bot")
}

func TestSetOwners(t *testing.T) {
	t.Parallel()
	m := newManager(&fakeSender{}, 1)
	require.True(t, m.IsOwner(1))
	m.SetOwners([]int64{9})
	require.False(t, m.IsOwner(1))
	require.True(t, m.IsOwner(9))
}
