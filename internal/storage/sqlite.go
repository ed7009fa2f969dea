package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"eurobot/internal/lottery"
	"eurobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; readers wait on busy_timeout instead of failing
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetSelection(ctx context.Context, userID int64) (lottery.Selection, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT numbers FROM selections WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var sel lottery.Selection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil, false, fmt.Errorf("decode selection %d: %w", userID, err)
	}
	return sel, true, nil
}

func (s *sqliteStore) PutSelection(ctx context.Context, userID int64, sel lottery.Selection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO selections(user_id, numbers, updated_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET numbers=excluded.numbers, updated_at=excluded.updated_at`,
		userID, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListSelections(ctx context.Context) (map[int64]lottery.Selection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, numbers FROM selections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]lottery.Selection{}
	for rows.Next() {
		var (
			uid int64
			raw string
		)
		if err := rows.Scan(&uid, &raw); err != nil {
			return nil, err
		}
		var sel lottery.Selection
		if err := json.Unmarshal([]byte(raw), &sel); err != nil {
			s.log.Warn("skipping undecodable selection", logx.Int64("user_id", uid), logx.Err(err))
			continue
		}
		out[uid] = sel
	}
	return out, rows.Err()
}

func (s *sqliteStore) LastAnnounced(ctx context.Context) (string, bool, error) {
	var date string
	err := s.db.QueryRowContext(ctx, `SELECT date FROM draw_cache WHERE id = 1`).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return date, date != "", nil
}

func (s *sqliteStore) MarkAnnounced(ctx context.Context, date string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO draw_cache(id, date, updated_at) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET date=excluded.date, updated_at=excluded.updated_at`,
		date, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, action, user_id, draw_date, ok, fail, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Action, nullInt(e.UserID), nullStr(e.DrawDate),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
