package router

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"eurobot/internal/runtime/supervisor"
	kit "eurobot/internal/transport"
	"eurobot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Hidden      bool          // reachable but not listed in help or the menu
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string // canonical name, even when reached through an alias
	Args    []string
	ReqID   string
	Owner   bool

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, opt)
	return err
}

func (r *Request) logger(def logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return def
}

// Replies are the fixed texts the router sends on its own.
type Replies struct {
	Unknown      string
	Unauthorized string
	Busy         string
}

var DefaultReplies = Replies{
	Unknown:      "❓ Comando sconosciuto. Usa /help per la lista dei comandi.",
	Unauthorized: "⛔ Comando riservato all'amministratore.",
	Busy:         "⏳ Troppe richieste in corso, riprova tra poco.",
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	Owners         []int64
	Replies        Replies
}

type CommandManager struct {
	mu      sync.RWMutex
	byName  map[string]Command // name and alias -> command
	ordered []Command
	owners  []int64

	log     logx.Logger
	sender  kit.Sender
	opts    Options
	replies Replies

	jobs chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	r := opts.Replies
	if r.Unknown == "" {
		r.Unknown = DefaultReplies.Unknown
	}
	if r.Unauthorized == "" {
		r.Unauthorized = DefaultReplies.Unauthorized
	}
	if r.Busy == "" {
		r.Busy = DefaultReplies.Busy
	}
	return &CommandManager{
		byName:  map[string]Command{},
		owners:  append([]int64(nil), opts.Owners...),
		log:     log,
		sender:  sender,
		opts:    opts,
		replies: r,
		jobs:    make(chan func(), opts.QueueSize),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) IsOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetRegistry replaces the command table. Names and aliases are matched
// case-insensitively; the first registration of a word wins.
func (m *CommandManager) SetRegistry(cmds []Command) {
	byName := map[string]Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" || c.Handle == nil {
			continue
		}
		if _, dup := byName[c.Name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", c.Name))
			continue
		}
		byName[c.Name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := byName[a]; !exists {
				byName[a] = c
			}
		}
	}

	m.mu.Lock()
	m.byName = byName
	m.ordered = ordered
	m.mu.Unlock()
}

// PublishMenu pushes the public command list to the platform menu when the
// sender supports it.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := menuCommands(m.ordered)
	m.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.opts.Workers
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log.With(logx.String("comp", "telegram.router"))))

	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) route(root context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	word, args, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd, found := m.byName[word]
	owner := slices.Contains(m.owners, msg.FromID)
	m.mu.RUnlock()

	if !found {
		m.reply(root, chat, m.replies.Unknown)
		return
	}
	if cmd.Access == AccessOwnerOnly && !owner {
		m.log.Warn("unauthorized command", logx.String("cmd", cmd.Name), logx.Int64("from_id", msg.FromID))
		m.reply(root, chat, m.replies.Unauthorized)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Owner:   owner,
		Sender:  m.sender,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		m.reply(root, chat, m.replies.Busy)
	}
}

func (m *CommandManager) reply(ctx context.Context, chat kit.ChatTarget, text string) {
	if _, err := m.sender.SendText(ctx, chat, text, nil); err != nil {
		m.log.Debug("router reply failed", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}
