package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry 是一条运行时配置变更的审计记录。
type Entry struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Store 记录运行时配置变更，独立于遥测库，走纯 Go 的 sqlite 驱动。
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS config_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	old_value TEXT NOT NULL,
	new_value TEXT NOT NULL,
	source TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_config_changes_ts ON config_changes(ts);
`

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit db: %w", err)
	}
	return &Store{db: db}, nil
}

// Append records one config change.
func (s *Store) Append(key, oldValue, newValue, source string) error {
	_, err := s.db.Exec(
		"INSERT INTO config_changes (key, old_value, new_value, source, ts) VALUES (?, ?, ?, ?, ?)",
		key, oldValue, newValue, source, time.Now().Unix(),
	)
	return err
}

// Recent returns the latest changes, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT id, key, old_value, new_value, source, ts FROM config_changes ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Key, &e.OldValue, &e.NewValue, &e.Source, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
