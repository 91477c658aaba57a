package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	MYSQL_CONN_MAX_LIFETIME = 5 * time.Minute
	MYSQL_MAX_OPEN_CONNS    = 10
	MYSQL_MAX_IDLE_CONNS    = 10
)

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS lead_rows (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    sheet_id VARCHAR(191) NOT NULL,
    tab VARCHAR(191) NOT NULL,
    recorded_at VARCHAR(64) NOT NULL DEFAULT '',
    first_name TEXT,
    last_name TEXT,
    email TEXT,
    phone TEXT,
    advisor_name TEXT,
    path TEXT,
    feedback TEXT,
    followup_date TEXT,
    INDEX idx_lead_rows_target (sheet_id, tab)
)`,
}

// NewMySQLStore opens a MySQL-backed lead store. The DSN must be in
// go-sql-driver format, e.g. user:pass@tcp(host:3306)/leads.
func NewMySQLStore(dsn string) (*SQLStore, error) {
	mysqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	mysqlDB.SetConnMaxLifetime(MYSQL_CONN_MAX_LIFETIME)
	mysqlDB.SetMaxOpenConns(MYSQL_MAX_OPEN_CONNS)
	mysqlDB.SetMaxIdleConns(MYSQL_MAX_IDLE_CONNS)

	return newSQLStore(mysqlDB, mysqlMigrations)
}
