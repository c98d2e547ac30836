package helpers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xiaot623/chatline/internal/config"
	"github.com/xiaot623/chatline/internal/domain"
	"github.com/xiaot623/chatline/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestFileSQLiteStore opens a file database in a temp dir with the
// production DSN options and an uncapped connection pool.
func NewTestFileSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(config.FileDatabaseURL(filepath.Join(t.TempDir(), "chat.db")))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedUsers inserts one user per id.
func SeedUsers(t *testing.T, s repository.Store, ids ...string) {
	t.Helper()

	for _, id := range ids {
		if err := s.CreateUser(context.Background(), &domain.User{ID: id, Username: id}); err != nil {
			t.Fatalf("failed to seed user %s: %v", id, err)
		}
	}
}
