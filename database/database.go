package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	SQLite   = "sqlite3"
	Postgres = "postgres"
)

// Open connects to a SQLite file or a PostgreSQL URL and brings the schema
// up to date.
func Open(driver, url string) (db *sqlx.DB, err error) {
	dsn := url
	switch driver {
	case SQLite:
		dsn = sqliteDSN(url)
	case Postgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err = sqlx.Open(driver, dsn)
	if err != nil {
		return
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return
	}

	// db tuning options
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	err = migrateDB(db, driver)
	if err != nil {
		db.Close()
		return
	}

	return
}

func sqliteDSN(path string) string {
	params := "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return "file:" + strings.TrimPrefix(path, "file:") + "?" + params
}
