// Package repotest opens throwaway in-memory databases for tests.
package repotest

import (
	"context"
	"testing"

	"github.com/Skotchmaster/taskhub/internal/repo"
	"github.com/Skotchmaster/taskhub/pkg/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewDB returns a migrated SQLite database private to the test.
func NewDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	gdb, err := db.Open(context.Background(), db.Options{
		Driver:       db.DriverSQLite,
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close(gdb) })

	if err := repo.Migrate(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return gdb
}

// NewSeededDB is NewDB plus the built-in roles.
func NewSeededDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	gdb := NewDB(tb)
	if err := (&repo.GormRepo{DB: gdb}).SeedRoles(context.Background()); err != nil {
		tb.Fatalf("seed roles: %v", err)
	}
	return gdb
}
