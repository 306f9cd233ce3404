//go:build cgo_sqlite

package main

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

// sqliteDSN turns a file path into a mattn/go-sqlite3 data source.
func sqliteDSN(path string) string {
	return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

func initDB(path string) (*sql.DB, error) {
	return sql.Open(sqliteDriver, sqliteDSN(path))
}
