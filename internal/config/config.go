package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	// Base URL of the web client; confirmation links are built against it.
	ConfirmBaseURL string

	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	SessionIdleMinutes  int
	SessionAbsoluteHour int

	TrustProxy         bool
	CORSAllowedOrigins []string

	PasswordMinLength int
	PasswordMaxLength int

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	BootstrapAdminEmail    string
	BootstrapAdminName     string
	BootstrapAdminPassword string

	ReminderSender string
	ReminderFrom   string

	SMTPHost               string
	SMTPPort               int
	SMTPTLS                bool
	SMTPStartTLS           bool
	SMTPInsecureSkipVerify bool
	SMTPUsername           string
	SMTPPassword           string

	DispatchEnabled     bool
	DispatchIntervalSec int
	DispatchMaxAttempts int
	DispatchBatchSize   int
	OverdueGraceDays    int

	// External practice-management directory used to resolve external
	// recipient references. Empty driver disables directory lookups.
	DirectoryDriver     string
	DirectoryDSN        string
	DirectoryTable      string
	DirectoryIDColumn   string
	DirectoryNameColumn string
	DirectoryEmailCol   string

	BounceEnabled          bool
	BounceMailbox          string
	BouncePollSec          int
	IMAPHost               string
	IMAPPort               int
	IMAPTLS                bool
	IMAPStartTLS           bool
	IMAPInsecureSkipVerify bool
	IMAPUsername           string
	IMAPPassword           string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		ConfirmBaseURL:           env("CONFIRM_BASE_URL", ""),
		DBPath:                   env("APP_DB_PATH", "./data/app.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		SessionIdleMinutes:       envInt("SESSION_IDLE_MINUTES", 30),
		SessionAbsoluteHour:      envInt("SESSION_ABSOLUTE_HOURS", 24),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 12),
		PasswordMaxLength:        envInt("PASSWORD_MAX_LENGTH", 128),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		BootstrapAdminEmail:      env("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminName:       env("BOOTSTRAP_ADMIN_NAME", "Administrator"),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
		ReminderSender:           strings.ToLower(env("REMINDER_SENDER", "log")),
		ReminderFrom:             env("REMINDER_FROM", "compliance@example.com"),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		SMTPTLS:                  envBool("SMTP_TLS", false),
		SMTPStartTLS:             envBool("SMTP_STARTTLS", true),
		SMTPInsecureSkipVerify:   envBool("SMTP_INSECURE_SKIP_VERIFY", false),
		SMTPUsername:             env("SMTP_USERNAME", ""),
		SMTPPassword:             env("SMTP_PASSWORD", ""),
		DispatchEnabled:          envBool("DISPATCH_ENABLED", true),
		DispatchIntervalSec:      envInt("DISPATCH_INTERVAL_SEC", 60),
		DispatchMaxAttempts:      envInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBatchSize:        envInt("DISPATCH_BATCH_SIZE", 50),
		OverdueGraceDays:         envInt("OVERDUE_GRACE_DAYS", 7),
		DirectoryDriver:          strings.ToLower(env("DIRECTORY_DB_DRIVER", "")),
		DirectoryDSN:             env("DIRECTORY_DB_DSN", ""),
		DirectoryTable:           env("DIRECTORY_CONTACT_TABLE", "contacts"),
		DirectoryIDColumn:        env("DIRECTORY_CONTACT_ID_COL", "id"),
		DirectoryNameColumn:      env("DIRECTORY_CONTACT_NAME_COL", "name"),
		DirectoryEmailCol:        env("DIRECTORY_CONTACT_EMAIL_COL", "email"),
		BounceEnabled:            envBool("BOUNCE_CHECK_ENABLED", false),
		BounceMailbox:            env("BOUNCE_MAILBOX", "INBOX"),
		BouncePollSec:            envInt("BOUNCE_POLL_SEC", 300),
		IMAPHost:                 env("IMAP_HOST", "127.0.0.1"),
		IMAPPort:                 envInt("IMAP_PORT", 993),
		IMAPTLS:                  envBool("IMAP_TLS", true),
		IMAPStartTLS:             envBool("IMAP_STARTTLS", false),
		IMAPInsecureSkipVerify:   envBool("IMAP_INSECURE_SKIP_VERIFY", false),
		IMAPUsername:             env("IMAP_USERNAME", ""),
		IMAPPassword:             env("IMAP_PASSWORD", ""),
	}

	if cfg.SessionIdleMinutes <= 0 || cfg.SessionAbsoluteHour <= 0 {
		return Config{}, fmt.Errorf("session timeouts must be positive")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.PasswordMinLength <= 0 || cfg.PasswordMaxLength < cfg.PasswordMinLength {
		return Config{}, fmt.Errorf("invalid password length bounds")
	}
	switch cfg.ReminderSender {
	case "log", "smtp":
	default:
		return Config{}, fmt.Errorf("REMINDER_SENDER must be log or smtp, got %q", cfg.ReminderSender)
	}
	if cfg.SMTPPort <= 0 || cfg.IMAPPort <= 0 {
		return Config{}, fmt.Errorf("mail ports must be positive")
	}
	if cfg.DispatchIntervalSec <= 0 || cfg.DispatchBatchSize <= 0 {
		return Config{}, fmt.Errorf("invalid dispatch config")
	}
	if cfg.DispatchMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be positive")
	}
	if cfg.OverdueGraceDays < 0 {
		return Config{}, fmt.Errorf("OVERDUE_GRACE_DAYS must not be negative")
	}
	switch cfg.DirectoryDriver {
	case "", "mysql", "pgx", "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported DIRECTORY_DB_DRIVER %q", cfg.DirectoryDriver)
	}
	if cfg.DirectoryDriver != "" && strings.TrimSpace(cfg.DirectoryDSN) == "" {
		return Config{}, fmt.Errorf("DIRECTORY_DB_DSN is required when a directory driver is set")
	}
	return cfg, nil
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) SessionAbsoluteDuration() time.Duration {
	return time.Duration(c.SessionAbsoluteHour) * time.Hour
}

func (c Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSec) * time.Second
}

func (c Config) BouncePollInterval() time.Duration {
	return time.Duration(c.BouncePollSec) * time.Second
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envCSV(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
