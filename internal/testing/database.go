package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/ixbulk/db"
)

// CreateTestDB creates an in-memory SQLite test database with migrations applied.
// The pool is pinned to one connection so every query sees the same in-memory database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	testDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		testDB.Close()
	})

	if err := db.Migrate(testDB, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return testDB
}
