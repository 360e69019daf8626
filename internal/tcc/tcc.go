// Package tcc reads macOS privacy consent decisions from a TCC.db. The
// database is owned by the OS; this package only ever opens it read-only.
package tcc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Services queried by reaper.
const (
	ServiceAppleEvents   = "kTCCServiceAppleEvents"
	ServiceAccessibility = "kTCCServiceAccessibility"
)

// Decision is a consent decision recorded by the OS.
type Decision int

const (
	Unset Decision = iota
	Denied
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Denied:
		return "denied"
	case Allowed:
		return "allowed"
	default:
		return "unset"
	}
}

// UserDBPath is the per-user consent database holding automation rows.
func UserDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Application Support", "com.apple.TCC", "TCC.db")
}

// SystemDBPath holds accessibility rows and is readable only by root or
// with Full Disk Access.
const SystemDBPath = "/Library/Application Support/com.apple.TCC/TCC.db"

// Store queries one TCC.db. Each query opens its own read-only handle
// since the OS rewrites the file underneath us.
type Store struct {
	path string
}

// NewStore returns a Store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Dir returns the directory holding the database, for change watching.
func (s *Store) Dir() string {
	return filepath.Dir(s.path)
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	if _, err := os.Stat(s.path); err != nil {
		return nil, fmt.Errorf("tcc: %w", err)
	}
	dsn := "file:" + (&url.URL{Path: s.path}).EscapedPath() + "?mode=ro"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tcc: open %s: %w", s.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("tcc: open %s: %w", s.path, err)
	}
	return db, nil
}

// AppleEvents returns the decision for clients automating target.
// clients lists every identifier the OS may have recorded for reaper
// (bundle id and executable path); the newest matching row wins.
func (s *Store) AppleEvents(ctx context.Context, clients []string, target string) (Decision, error) {
	return s.lookup(ctx, ServiceAppleEvents, clients, target)
}

// Service returns the decision for clients on a target-less service such
// as accessibility.
func (s *Store) Service(ctx context.Context, service string, clients []string) (Decision, error) {
	return s.lookup(ctx, service, clients, "")
}

func (s *Store) lookup(ctx context.Context, service string, clients []string, target string) (Decision, error) {
	clients = nonEmpty(clients)
	if len(clients) == 0 {
		return Unset, errors.New("tcc: no client identifiers")
	}

	db, err := s.open(ctx)
	if err != nil {
		return Unset, err
	}
	defer func() { _ = db.Close() }()

	column, err := decisionColumn(ctx, db)
	if err != nil {
		return Unset, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clients)), ",")
	query := fmt.Sprintf(`SELECT %s FROM access WHERE service = ? AND client IN (%s)`, column, placeholders)
	args := []any{service}
	for _, c := range clients {
		args = append(args, c)
	}
	if target != "" {
		query += ` AND indirect_object_identifier = ?`
		args = append(args, target)
	}
	query += ` ORDER BY last_modified DESC LIMIT 1`

	var value int
	err = db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return Unset, nil
	}
	if err != nil {
		return Unset, fmt.Errorf("tcc: query %s: %w", service, err)
	}
	return decode(column, value), nil
}

// decisionColumn picks auth_value (macOS 11+) or the older allowed flag.
func decisionColumn(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info('access')`)
	if err != nil {
		return "", fmt.Errorf("tcc: inspect schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	found := ""
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("tcc: inspect schema: %w", err)
		}
		switch name {
		case "auth_value":
			found = name
		case "allowed":
			if found == "" {
				found = name
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("tcc: inspect schema: %w", err)
	}
	if found == "" {
		return "", errors.New("tcc: unrecognised access table schema")
	}
	return found, nil
}

func decode(column string, value int) Decision {
	if column == "allowed" {
		if value == 1 {
			return Allowed
		}
		return Denied
	}
	// auth_value: 0 denied, 1 unknown, 2 allowed, 3 limited.
	switch value {
	case 0:
		return Denied
	case 2, 3:
		return Allowed
	}
	return Unset
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
