package storage

import (
	"context"
	"errors"
	"time"

	"eurobot/internal/lottery"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Path is a directory for the file driver and a database file for sqlite.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisURL    string
	KeyPrefix   string // redis only
	AuditMax    int    // redis only; cap of the audit list
}

// Registrations maps a user id to the selection they registered.
type Registrations interface {
	GetSelection(ctx context.Context, userID int64) (lottery.Selection, bool, error)
	// PutSelection validates sel and replaces any previous record for userID.
	PutSelection(ctx context.Context, userID int64, sel lottery.Selection) error
	// ListSelections returns a copy of every registration; empty, never nil.
	ListSelections(ctx context.Context) (map[int64]lottery.Selection, error)
}

// DrawCache holds the date of the last draw that was fully announced.
type DrawCache interface {
	LastAnnounced(ctx context.Context) (date string, ok bool, err error)
	MarkAnnounced(ctx context.Context, date string) error
}

type Auditor interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

type Store interface {
	Registrations
	DrawCache
	Auditor
	Close() error
}

// Audit actions.
const (
	ActionRegister = "register"
	ActionFanout   = "fanout"
	ActionCheck    = "check"
)

// AuditEntry records one user or scheduler action. Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Action   string    `json:"action"`
	UserID   int64     `json:"user_id,omitempty"`
	DrawDate string    `json:"draw_date,omitempty"`
	OK       int       `json:"ok,omitempty"`
	Fail     int       `json:"fail,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
}

func copySelections(in map[int64]lottery.Selection) map[int64]lottery.Selection {
	out := make(map[int64]lottery.Selection, len(in))
	for k, v := range in {
		out[k] = append(lottery.Selection(nil), v...)
	}
	return out
}
