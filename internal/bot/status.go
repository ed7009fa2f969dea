package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"eurobot/internal/task/poller"
)

const statusTimeLayout = "2006-01-02 15:04 MST"

func (h *Handlers) statusText(now time.Time) string {
	var b strings.Builder
	b.WriteString("📊 <b>Stato</b>\n")

	if h.status == nil {
		b.WriteString("Scheduler non attivo")
		return b.String()
	}
	snap := h.status.Snapshot()
	fmt.Fprintf(&b, "Scheduler: <code>%s</code>\n", snap.State)
	fmt.Fprintf(&b, "Pianificazione: <code>%s</code> (%s)\n", html.EscapeString(snap.Schedule), html.EscapeString(snap.Timezone))
	if !snap.Next.IsZero() {
		fmt.Fprintf(&b, "Prossimo controllo: %s (tra %s)\n", snap.Next.In(locOf(snap)).Format(statusTimeLayout), snap.Next.Sub(now).Round(time.Minute))
	}

	if t := snap.LastTick; t != nil {
		fmt.Fprintf(&b, "\n<b>Ultimo controllo</b> %s\n", t.StartedAt.In(locOf(snap)).Format(statusTimeLayout))
		fmt.Fprintf(&b, "Esito: <code>%s</code>", t.Outcome)
		if t.DrawDate != "" {
			fmt.Fprintf(&b, " estrazione %s", html.EscapeString(t.DrawDate))
		}
		b.WriteString("\n")
		if t.Err != nil {
			fmt.Fprintf(&b, "Errore: <code>%s</code>\n", html.EscapeString(t.Err.Error()))
		}
	} else {
		b.WriteString("\nNessun controllo eseguito finora\n")
	}

	if h.reports != nil {
		if r, ok := h.reports.Last(); ok {
			fmt.Fprintf(&b, "\n<b>Ultimo invio</b> (%s)\n", html.EscapeString(r.DrawDate))
			fmt.Fprintf(&b, "Inviati %d/%d, falliti %d, saltati %d in %s", r.Succeeded, r.Total, r.Failed, r.Skipped, r.Duration.Round(time.Millisecond))
			for i, f := range r.Failures {
				if i == 5 {
					fmt.Fprintf(&b, "\n… altri %d", len(r.Failures)-i)
					break
				}
				fmt.Fprintf(&b, "\n• <code>%d</code>: %s", f.UserID, html.EscapeString(errString(f.Reason)))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func locOf(snap poller.Snapshot) *time.Location {
	if loc, err := time.LoadLocation(snap.Timezone); err == nil {
		return loc
	}
	return time.Local
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
