package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"matchwatch/internal/watch"
	logx "matchwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (watch.Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
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

func (s *sqliteStore) ReplaceSubscription(ctx context.Context, groupID int64, sub watch.Subscription) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var replaced []string
	var old string
	err = tx.QueryRowContext(ctx,
		`SELECT event_id FROM subscriptions WHERE group_id = ?`, groupID).Scan(&old)
	switch {
	case err == nil:
		replaced = append(replaced, old)
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions(group_id, event_id, title, start_date, end_date)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(group_id) DO UPDATE SET
		   event_id=excluded.event_id, title=excluded.title,
		   start_date=excluded.start_date, end_date=excluded.end_date`,
		groupID, sub.EventID, sub.Title, sub.StartDate, sub.EndDate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, groupID int64, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE group_id = ? AND event_id = ?`, groupID, eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Subscriptions(ctx context.Context) (map[string]watch.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, title, start_date, end_date FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]watch.Subscription{}
	for rows.Next() {
		var sub watch.Subscription
		if err := rows.Scan(&sub.EventID, &sub.Title, &sub.StartDate, &sub.EndDate); err != nil {
			return nil, err
		}
		if cur, ok := out[sub.EventID]; ok && cur.StartDate != "" && sub.StartDate == "" {
			continue
		}
		out[sub.EventID] = sub
	}
	return out, rows.Err()
}

func (s *sqliteStore) GroupsByEvent(ctx context.Context, eventID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM subscriptions WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []int64
	for rows.Next() {
		var gid int64
		if err := rows.Scan(&gid); err != nil {
			return nil, err
		}
		groups = append(groups, gid)
	}
	return groups, rows.Err()
}

func (s *sqliteStore) IsNotified(ctx context.Context, kind watch.NotifyKind, matchID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM notified WHERE match_id = ? AND kind = ?`, matchID, kind.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkNotified(ctx context.Context, kind watch.NotifyKind, matchID, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notified(match_id, kind, event_id, at) VALUES(?,?,?,?)
		 ON CONFLICT(match_id, kind) DO NOTHING`,
		matchID, kind.String(), eventID, time.Now().Format(time.RFC3339))
	return err
}

func (s *sqliteStore) ClearEventNotified(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notified WHERE event_id = ?`, eventID)
	return err
}

func (s *sqliteStore) CleanNotified(ctx context.Context, valid map[string]struct{}) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT match_id FROM notified`)
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := valid[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range stale {
		res, err := tx.ExecContext(ctx, `DELETE FROM notified WHERE match_id = ?`, id)
		if err != nil {
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}
	return removed, tx.Commit()
}
