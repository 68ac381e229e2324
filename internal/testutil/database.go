package testutil

import (
	"testing"

	"portab/internal/database"
)

// NewTestDatabase creates a migrated in-memory catalog that is closed when
// the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}
