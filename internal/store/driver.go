package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const (
	driverName  = "sqlite3_atomledger"
	eventsTable = "events"
)

// connPragmas are per-connection settings, applied on every new connection
// so they survive pool churn.
var connPragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{ConnectHook: connectHook})
	})
}

func connectHook(conn *sqlite3.SQLiteConn) error {
	for _, pragma := range connPragmas {
		if _, err := conn.Exec(pragma, nil); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	conn.RegisterAuthorizer(authorize)
	return nil
}

// authorize denies any statement that would rewrite or remove ledger rows.
// For SQLITE_UPDATE and SQLITE_DELETE, table is the target table name.
func authorize(op int, table, _, _ string) int {
	switch op {
	case sqlite3.SQLITE_UPDATE, sqlite3.SQLITE_DELETE:
		if table == eventsTable {
			return sqlite3.SQLITE_DENY
		}
	}
	return sqlite3.SQLITE_OK
}

func buildDSN(path string, readOnly bool) string {
	q := url.Values{}
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + q.Encode()
}
