//go:build !cgo_sqlite

package main

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// sqliteDSN turns a file path into a modernc.org/sqlite data source.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func initDB(path string) (*sql.DB, error) {
	return sql.Open(sqliteDriver, sqliteDSN(path))
}
