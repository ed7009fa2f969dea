package storage

import (
	"context"
	"sync"
	"time"

	"eurobot/internal/lottery"
)

// Memory keeps everything in maps. Nothing survives the process.
type Memory struct {
	mu    sync.RWMutex
	sels  map[int64]lottery.Selection
	last  string
	audit []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{sels: map[int64]lottery.Selection{}}
}

func (m *Memory) GetSelection(ctx context.Context, userID int64) (lottery.Selection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sel, ok := m.sels[userID]
	if !ok {
		return nil, false, nil
	}
	return append(lottery.Selection(nil), sel...), true, nil
}

func (m *Memory) PutSelection(ctx context.Context, userID int64, sel lottery.Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.sels[userID] = append(lottery.Selection(nil), sel...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListSelections(ctx context.Context) (map[int64]lottery.Selection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySelections(m.sels), nil
}

func (m *Memory) LastAnnounced(ctx context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.last != "", nil
}

func (m *Memory) MarkAnnounced(ctx context.Context, date string) error {
	m.mu.Lock()
	m.last = date
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

// Audit returns a copy of the recorded entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error { return nil }
