package orchestrator

import (
	"database/sql"
	"testing"

	"github.com/dotcommander/cogsidecar/internal/store"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	tempDir := t.TempDir()
	testDBPath := tempDir + "/test.db"

	db, err := store.InitDBWithPath(testDBPath)
	if err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return db, cleanup
}
