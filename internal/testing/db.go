// Package testing provides testing utilities and helpers for the sentinel-jobs project.
package testing

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aristath/sentinel-jobs/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a temporary directory
// with the embedded schema for name applied ("jobs" is the only schema;
// unknown names give an empty database). The database is closed when the
// test ends.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	db := openTestDB(t, name)
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}

// NewTestDBWithSchema creates a test database and executes schema on it
// instead of the embedded one.
func NewTestDBWithSchema(t *testing.T, name string, schema string) *database.DB {
	t.Helper()

	db := openTestDB(t, name)
	if schema != "" {
		if _, err := db.Conn().Exec(schema); err != nil {
			t.Fatalf("Failed to execute custom schema for test database %s: %v", name, err)
		}
	}
	return db
}

func openTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	// A file per test keeps tests isolated and exercises WAL mode
	path := filepath.Join(t.TempDir(), fmt.Sprintf("test_%s.db", name))
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})
	return db
}
