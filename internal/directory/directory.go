package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lexremind/internal/config"
)

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrContactNotFound marks a lookup that reached the directory but matched
// no contact.
var ErrContactNotFound = errors.New("directory: contact not found")

// ErrUnavailable marks a lookup against a deployment with no directory
// configured.
var ErrUnavailable = errors.New("directory: not configured")

// Person is a contact row copied into a recipient at registration time.
// Later edits in the directory do not flow back.
type Person struct {
	ID    string
	Name  string
	Email string
}

type Directory interface {
	LookupContact(ctx context.Context, externalID string) (Person, error)
}

// New builds a Directory from config. An empty driver means the deployment
// has no external contact database and every external lookup fails fast.
func New(cfg config.Config) (Directory, error) {
	if strings.TrimSpace(cfg.DirectoryDriver) == "" {
		return NoDirectory{}, nil
	}
	for _, ident := range []string{cfg.DirectoryTable, cfg.DirectoryIDColumn, cfg.DirectoryNameColumn, cfg.DirectoryEmailCol} {
		if !identRx.MatchString(ident) {
			return nil, fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}
	driver := cfg.DirectoryDriver
	if driver == "postgres" {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.DirectoryDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &SQLDirectory{
		db:       db,
		driver:   driver,
		table:    cfg.DirectoryTable,
		idCol:    cfg.DirectoryIDColumn,
		nameCol:  cfg.DirectoryNameColumn,
		emailCol: cfg.DirectoryEmailCol,
	}, nil
}

// SQLDirectory reads contacts out of a firm's existing database, typically
// MySQL or Postgres owned by another system. Access is strictly read-only.
type SQLDirectory struct {
	db       *sql.DB
	driver   string
	table    string
	idCol    string
	nameCol  string
	emailCol string
}

func (d *SQLDirectory) LookupContact(ctx context.Context, externalID string) (Person, error) {
	q := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s=%s",
		d.idCol, d.nameCol, d.emailCol, d.table, d.idCol, d.ph(1))
	var p Person
	err := d.db.QueryRowContext(ctx, q, externalID).Scan(&p.ID, &p.Name, &p.Email)
	if err == sql.ErrNoRows {
		return Person{}, ErrContactNotFound
	}
	if err != nil {
		return Person{}, err
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Name = strings.TrimSpace(p.Name)
	return p, nil
}

func (d *SQLDirectory) ph(i int) string {
	if strings.Contains(strings.ToLower(d.driver), "pgx") || strings.Contains(strings.ToLower(d.driver), "postgres") {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

type NoDirectory struct{}

func (NoDirectory) LookupContact(ctx context.Context, externalID string) (Person, error) {
	return Person{}, ErrUnavailable
}
