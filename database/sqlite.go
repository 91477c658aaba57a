package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS lead_rows (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sheet_id TEXT NOT NULL,
    tab TEXT NOT NULL,
    recorded_at TEXT NOT NULL DEFAULT '',
    first_name TEXT,
    last_name TEXT,
    email TEXT,
    phone TEXT,
    advisor_name TEXT,
    path TEXT,
    feedback TEXT,
    followup_date TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_lead_rows_target ON lead_rows(sheet_id, tab)`,
}

func NewSQLiteStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteMigrations)
}
