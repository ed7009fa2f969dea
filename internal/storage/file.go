package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"eurobot/internal/lottery"
	"eurobot/pkg/logx"
)

const (
	selectionsFile = "user_numbers.json"
	lastDrawFile   = "last_draw.json"
	auditFile      = "audit.jsonl"
)

// fileStore keeps state as plain JSON files in one directory:
//   - user_numbers.json  {"<user_id>": [n1..n5, s1, s2]}
//   - last_draw.json     {"date": "YYYY-MM-DD"}
//   - audit.jsonl        append-only JSON Lines
//
// Reads always hit the disk so edits made by another process are picked up.
// Writes are read-modify-write under mu and land via temp file + rename.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

type lastDrawRecord struct {
	Date string `json:"date"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) path(name string) string { return filepath.Join(s.dir, name) }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) GetSelection(ctx context.Context, userID int64) (lottery.Selection, bool, error) {
	all, err := s.readSelections()
	if err != nil {
		return nil, false, err
	}
	sel, ok := all[userID]
	return sel, ok, nil
}

func (s *fileStore) ListSelections(ctx context.Context) (map[int64]lottery.Selection, error) {
	return s.readSelections()
}

func (s *fileStore) PutSelection(ctx context.Context, userID int64, sel lottery.Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	all, keep, err := s.readDocument()
	if err != nil {
		return err
	}
	all[userID] = append(lottery.Selection(nil), sel...)

	// entries that failed to decode are written back untouched
	raw := make(map[string]json.RawMessage, len(all)+len(keep))
	for k, v := range keep {
		raw[k] = v
	}
	for uid, v := range all {
		b, err := json.Marshal([]int(v))
		if err != nil {
			return err
		}
		raw[strconv.FormatInt(uid, 10)] = b
	}
	return writeJSONAtomic(s.path(selectionsFile), raw)
}

func (s *fileStore) readSelections() (map[int64]lottery.Selection, error) {
	out, _, err := s.readDocument()
	return out, err
}

// readDocument decodes user_numbers.json entry by entry. A bad entry is
// logged and returned in skipped instead of failing the whole document.
func (s *fileStore) readDocument() (out map[int64]lottery.Selection, skipped map[string]json.RawMessage, err error) {
	out = map[int64]lottery.Selection{}
	skipped = map[string]json.RawMessage{}
	b, err := os.ReadFile(s.path(selectionsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return out, skipped, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return out, skipped, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", selectionsFile, err)
	}
	for k, v := range raw {
		uid, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			s.log.Warn("skipping registration with bad user id", logx.String("key", k))
			skipped[k] = v
			continue
		}
		var nums []int
		if err := json.Unmarshal(v, &nums); err != nil {
			s.log.Warn("skipping undecodable selection", logx.Int64("user_id", uid), logx.Err(err))
			skipped[k] = v
			continue
		}
		out[uid] = lottery.Selection(nums)
	}
	return out, skipped, nil
}

func (s *fileStore) LastAnnounced(ctx context.Context) (string, bool, error) {
	b, err := os.ReadFile(s.path(lastDrawFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var rec lastDrawRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return "", false, fmt.Errorf("decode %s: %w", lastDrawFile, err)
	}
	return rec.Date, rec.Date != "", nil
}

func (s *fileStore) MarkAnnounced(ctx context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeJSONAtomic(s.path(lastDrawFile), lastDrawRecord{Date: date})
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	f, err := os.OpenFile(s.path(auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeJSONAtomic replaces path with v's JSON. Keys of maps come out sorted,
// so repeated writes of the same data produce identical files.
func writeJSONAtomic(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
