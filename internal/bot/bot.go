// Package bot binds the chat commands to the query and scheduler services.
package bot

import (
	"context"
	"errors"
	"time"

	"eurobot/internal/lottery"
	"eurobot/internal/notifier/fanout"
	"eurobot/internal/task/poller"
	kit "eurobot/internal/transport"
	"eurobot/internal/transport/telegram/router"
	"eurobot/pkg/logx"
)

const (
	msgWelcome = "🎲 <b>Euromillions Bot</b> 🎲\n\n" +
		"Benvenuto! Usa i comandi qui sotto per interagire con me:\n\n" +
		"✨ /setnumeri - Imposta i tuoi 7 numeri\n" +
		"🔍 /controlla - Controlla l'ultima estrazione\n" +
		"📋 /imieinumeri - Mostra i numeri salvati\n\n" +
		"Ti avviserò io quando esce una nuova estrazione."
	msgUsage         = "⚠️ Errore! Usa il formato: /setnumeri n1 n2 n3 n4 n5 s1 s2"
	msgRange         = "I numeri principali vanno da 1 a 50, le stelle da 1 a 12, senza ripetizioni."
	msgNotRegistered = "⚠️ Non hai ancora impostato i tuoi numeri. Usa /setnumeri."
	msgSourceDown    = "⚠️ Non riesco a recuperare l'ultima estrazione. Riprova più tardi."
	msgInternal      = "⚠️ Si è verificato un errore. Riprova più tardi."
)

// Queries is the per-user side of the bot.
type Queries interface {
	Handle(ctx context.Context, userID int64) (string, error)
	Register(ctx context.Context, userID int64, args []string) (lottery.Selection, error)
	Selection(ctx context.Context, userID int64) (lottery.Selection, error)
}

type Status interface {
	Snapshot() poller.Snapshot
}

type Reports interface {
	Last() (fanout.DeliveryReport, bool)
}

type Handlers struct {
	queries Queries
	status  Status  // optional
	reports Reports // optional
	log     logx.Logger
}

func New(q Queries, status Status, reports Reports, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{queries: q, status: status, reports: reports, log: log.With(logx.String("comp", "bot"))}
}

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// Commands returns the command table. help renders the command list for the
// caller (owners see owner-only entries too).
func (h *Handlers) Commands(help func(owner bool) string) []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Aliases:     []string{"help", "aiuto"},
			Description: "Benvenuto e lista dei comandi",
			Handle: func(ctx context.Context, req *router.Request) error {
				text := msgWelcome
				if help != nil && req.Owner {
					text += "\n\n" + help(true)
				}
				return req.Reply(ctx, text, htmlOpts)
			},
		},
		{
			Name:        "setnumeri",
			Aliases:     []string{"register"},
			Description: "Imposta i tuoi 7 numeri",
			Usage:       "/setnumeri n1 n2 n3 n4 n5 s1 s2",
			Timeout:     10 * time.Second,
			Handle:      h.register,
		},
		{
			Name:        "controlla",
			Aliases:     []string{"check"},
			Description: "Controlla l'ultima estrazione",
			Timeout:     30 * time.Second,
			Handle:      h.check,
		},
		{
			Name:        "imieinumeri",
			Aliases:     []string{"mine"},
			Description: "Mostra i numeri salvati",
			Timeout:     10 * time.Second,
			Handle:      h.mine,
		},
		{
			Name:        "stato",
			Aliases:     []string{"status"},
			Description: "Stato dello scheduler e ultimo invio",
			Access:      router.AccessOwnerOnly,
			Handle:      h.stato,
		},
	}
}

func (h *Handlers) register(ctx context.Context, req *router.Request) error {
	sel, err := h.queries.Register(ctx, req.FromID, req.Args)
	switch {
	case errors.Is(err, lottery.ErrInvalidSelection):
		return req.Reply(ctx, msgUsage+"\n"+msgRange, nil)
	case err != nil:
		_ = req.Reply(ctx, msgInternal, nil)
		return err
	}
	return req.Reply(ctx, lottery.RenderSaved(sel), nil)
}

func (h *Handlers) check(ctx context.Context, req *router.Request) error {
	text, err := h.queries.Handle(ctx, req.FromID)
	switch {
	case errors.Is(err, lottery.ErrNotRegistered):
		return req.Reply(ctx, msgNotRegistered, nil)
	case lottery.IsSourceError(err):
		req.Logger.Warn("check failed on source", logx.Err(err))
		return req.Reply(ctx, msgSourceDown, nil)
	case err != nil:
		_ = req.Reply(ctx, msgInternal, nil)
		return err
	}
	return req.Reply(ctx, text, htmlOpts)
}

func (h *Handlers) mine(ctx context.Context, req *router.Request) error {
	sel, err := h.queries.Selection(ctx, req.FromID)
	switch {
	case errors.Is(err, lottery.ErrNotRegistered):
		return req.Reply(ctx, msgNotRegistered, nil)
	case err != nil:
		_ = req.Reply(ctx, msgInternal, nil)
		return err
	}
	return req.Reply(ctx, "🎯 Numeri principali: "+lottery.Join(sel.Mains())+"\n⭐ Numeri Stella: "+lottery.Join(sel.Stars()), nil)
}

func (h *Handlers) stato(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, h.statusText(time.Now()), htmlOpts)
}
