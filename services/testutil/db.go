package testutil

import (
	"strings"
	"testing"

	"smallbiznis-loyalty/pkg/db"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewTestDB opens an in-memory sqlite database private to t, migrated with
// models, and closes it when the test finishes.
func NewTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.OpenMemory(name, models...)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return conn
}

// NopLogger silences the global zap logger for a package's tests.
func NopLogger() {
	zap.ReplaceGlobals(zap.NewNop())
}
