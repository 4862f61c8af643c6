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

	logx "patchbell/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection doubles as the single-writer lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
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

func (s *sqliteStore) AddSubscription(ctx context.Context, subscriberID, sourceKey string) (AddResult, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(subscriber_id, source_key, created_at) VALUES(?,?,?)
		 ON CONFLICT(subscriber_id, source_key) DO NOTHING`,
		subscriberID, sourceKey, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, s.fail("add subscription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail("add subscription", err)
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Added, nil
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, subscriberID, sourceKey string) (RemoveResult, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = ? AND source_key = ?`,
		subscriberID, sourceKey,
	)
	if err != nil {
		return 0, s.fail("remove subscription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail("remove subscription", err)
	}
	if n == 0 {
		return NotFound, nil
	}
	return Removed, nil
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context, subscriberID string) ([]string, error) {
	return s.column(ctx, `SELECT source_key FROM subscriptions WHERE subscriber_id = ? ORDER BY source_key`, subscriberID)
}

func (s *sqliteStore) ListSubscribers(ctx context.Context, sourceKey string) ([]string, error) {
	return s.column(ctx, `SELECT subscriber_id FROM subscriptions WHERE source_key = ? ORDER BY subscriber_id`, sourceKey)
}

func (s *sqliteStore) column(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetLastSeen(ctx context.Context, sourceKey string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT identity FROM last_seen WHERE source_key = ?`, sourceKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SetLastSeen(ctx context.Context, sourceKey, identity string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO last_seen(source_key, identity, updated_at) VALUES(?,?,?)
		 ON CONFLICT(source_key) DO UPDATE SET identity=excluded.identity, updated_at=excluded.updated_at`,
		sourceKey, identity, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return s.fail("set last seen", err)
	}
	return nil
}

func (s *sqliteStore) fail(op string, err error) error {
	s.log.Error("sqlite write failed", logx.String("op", op), logx.Err(err))
	return fmt.Errorf("%s: %w", op, err)
}
