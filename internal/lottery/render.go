package lottery

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

const (
	announceHeader = "🆕 <b>Nuova estrazione Euromillions del %s</b>\n"
	checkHeader    = "📅 <b>Estrazione del %s</b>\n"
)

// RenderAnnouncement is the message pushed to every registered user on a new draw.
func RenderAnnouncement(draw DrawResult, sel Selection) string {
	return render(fmt.Sprintf(announceHeader, html.EscapeString(draw.Date)), draw, sel)
}

// RenderCheck answers an on-demand check.
func RenderCheck(draw DrawResult, sel Selection) string {
	return render(fmt.Sprintf(checkHeader, html.EscapeString(draw.Date)), draw, sel)
}

// RenderSaved confirms a registration.
func RenderSaved(sel Selection) string {
	var b strings.Builder
	b.WriteString("✅ I tuoi numeri sono stati salvati:\n")
	b.WriteString("🎯 Numeri principali: " + Join(sel.Mains()) + "\n")
	b.WriteString("⭐ Numeri Stella: " + Join(sel.Stars()))
	return b.String()
}

func render(header string, draw DrawResult, sel Selection) string {
	m := Match(sel, draw)

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("🎲 Numeri estratti: " + Join(draw.Numbers) + "\n")
	b.WriteString("⭐ Stelle estratte: " + Join(draw.Stars) + "\n\n")
	b.WriteString("🎯 I tuoi numeri: " + Join(sel.Mains()) + "\n")
	b.WriteString("⭐ I tuoi numeri Stella: " + Join(sel.Stars()) + "\n")
	b.WriteString("🏆 Numeri indovinati: " + orElse(Join(m.Mains), "Nessuno") + "\n")
	b.WriteString("🏅 Stelle indovinate: " + orElse(Join(m.Stars), "Nessuna"))
	return b.String()
}

// Join formats numbers as "a - b - c".
func Join(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " - ")
}

func orElse(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
