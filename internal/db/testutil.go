package db

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates an in-memory SQLite database for testing.
// This is exported for use by subpackage tests.
func SetupTestDB(t *testing.T) *Connections {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	return NewConnections(gdb, nil)
}
