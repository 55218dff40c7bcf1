package directory

import (
	"context"
	"errors"
	"testing"

	"lexremind/internal/config"
)

func TestNewWithoutDriverDisablesLookups(t *testing.T) {
	dir, err := New(config.Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := dir.(NoDirectory); !ok {
		t.Fatalf("expected NoDirectory, got %T", dir)
	}
	if _, err := dir.LookupContact(context.Background(), "ext-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewRejectsBadIdentifiers(t *testing.T) {
	cfg := config.Config{
		DirectoryDriver:     "mysql",
		DirectoryDSN:        "user:pass@tcp(localhost)/crm",
		DirectoryTable:      "contacts; DROP TABLE contacts",
		DirectoryIDColumn:   "id",
		DirectoryNameColumn: "name",
		DirectoryEmailCol:   "email",
	}
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected identifier validation error")
	}
}

func TestPlaceholderStyleFollowsDriver(t *testing.T) {
	if got := (&SQLDirectory{driver: "pgx"}).ph(2); got != "$2" {
		t.Fatalf("pgx placeholder=%q", got)
	}
	if got := (&SQLDirectory{driver: "mysql"}).ph(1); got != "?" {
		t.Fatalf("mysql placeholder=%q", got)
	}
}
