package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.ReminderSender != "log" {
		t.Fatalf("expected log sender default, got %q", cfg.ReminderSender)
	}
	if cfg.DispatchMaxAttempts != 3 || cfg.OverdueGraceDays != 7 {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg)
	}
	if cfg.DirectoryDriver != "" {
		t.Fatalf("directory must be disabled by default")
	}
}

func TestLoadRejectsBadSender(t *testing.T) {
	t.Setenv("REMINDER_SENDER", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown sender")
	}
}

func TestLoadRejectsDirectoryWithoutDSN(t *testing.T) {
	t.Setenv("DIRECTORY_DB_DRIVER", "mysql")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for directory driver without DSN")
	}
}

func TestLoadRejectsUnknownDirectoryDriver(t *testing.T) {
	t.Setenv("DIRECTORY_DB_DRIVER", "oracle")
	t.Setenv("DIRECTORY_DB_DSN", "whatever")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")
	if got := envInt("TEST_INT", 42); got != 42 {
		t.Fatalf("envInt fallback=%d", got)
	}
	t.Setenv("TEST_BOOL", "yes")
	if !envBool("TEST_BOOL", false) {
		t.Fatalf("expected yes to parse true")
	}
	t.Setenv("TEST_CSV", "a, b ,,c")
	got := envCSV("TEST_CSV")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("envCSV=%v", got)
	}
}
