package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"

	"github.com/selimozcann/RedirectGuard/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS threat_hashes (
	full_hash   BLOB PRIMARY KEY,
	prefix      BLOB NOT NULL,
	threat_type TEXT NOT NULL,
	expression  TEXT
);
CREATE INDEX IF NOT EXISTS threat_hashes_prefix ON threat_hashes(prefix);

CREATE TABLE IF NOT EXISTS allowlist_hashes (
	full_hash  BLOB PRIMARY KEY,
	prefix     BLOB NOT NULL,
	expression TEXT
);
CREATE INDEX IF NOT EXISTS allowlist_hashes_prefix ON allowlist_hashes(prefix);

CREATE TABLE IF NOT EXISTS skip_domains (
	domain TEXT PRIMARY KEY
);
`

// HashStore is the local hash database: threat list, high-confidence
// allowlist and domains exempt from checking.
type HashStore struct {
	db *sql.DB
}

// OpenHashStore opens (creating if needed) the SQLite database at path.
// ":memory:" gives a private in-memory store.
func OpenHashStore(ctx context.Context, path string) (*HashStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open hash store: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate hash store: %w", err)
	}
	return &HashStore{db: db}, nil
}

// Close closes the underlying database.
func (s *HashStore) Close() error {
	return s.db.Close()
}

// AddThreat lists a URL expression (for example "evil.example/login") as
// threat.
func (s *HashStore) AddThreat(ctx context.Context, expression string, threat model.ThreatType) error {
	if threat == model.ThreatNone {
		return fmt.Errorf("add threat %q: empty threat type", expression)
	}
	full := FullHash(expression)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threat_hashes (full_hash, prefix, threat_type, expression) VALUES (?, ?, ?, ?)
		 ON CONFLICT(full_hash) DO UPDATE SET threat_type = excluded.threat_type`,
		full, HashPrefix(full), string(threat), expression)
	if err != nil {
		return fmt.Errorf("add threat %q: %w", expression, err)
	}
	return nil
}

// AddAllowlisted puts a URL expression on the high-confidence allowlist.
func (s *HashStore) AddAllowlisted(ctx context.Context, expression string) error {
	full := FullHash(expression)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO allowlist_hashes (full_hash, prefix, expression) VALUES (?, ?, ?)`,
		full, HashPrefix(full), expression)
	if err != nil {
		return fmt.Errorf("add allowlisted %q: %w", expression, err)
	}
	return nil
}

// AddSkipDomain exempts every chain starting on domain's registrable domain
// from further checks.
func (s *HashStore) AddSkipDomain(ctx context.Context, domain string) error {
	domain = RegistrableDomain(&url.URL{Host: domain})
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO skip_domains (domain) VALUES (?)`, domain)
	if err != nil {
		return fmt.Errorf("add skip domain %q: %w", domain, err)
	}
	return nil
}

// Lookup returns the threat listed for any expression of u, or ThreatNone.
func (s *HashStore) Lookup(ctx context.Context, u *url.URL) (model.ThreatType, error) {
	for _, expr := range URLExpressions(u) {
		full := FullHash(expr)
		var threat string
		err := s.db.QueryRowContext(ctx,
			`SELECT threat_type FROM threat_hashes WHERE prefix = ? AND full_hash = ?`,
			HashPrefix(full), full).Scan(&threat)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return model.ThreatNone, fmt.Errorf("lookup %s: %w", expr, err)
		}
		t, _ := model.ParseThreatType(threat)
		return t, nil
	}
	return model.ThreatNone, nil
}

// IsHighConfidenceAllowlisted reports whether any expression of u is on the
// allowlist.
func (s *HashStore) IsHighConfidenceAllowlisted(ctx context.Context, u *url.URL) (bool, error) {
	for _, expr := range URLExpressions(u) {
		full := FullHash(expr)
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM allowlist_hashes WHERE prefix = ? AND full_hash = ?`,
			HashPrefix(full), full).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("allowlist %s: %w", expr, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// IsSkipDomain reports whether u's registrable domain is exempt.
func (s *HashStore) IsSkipDomain(ctx context.Context, u *url.URL) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM skip_domains WHERE domain = ?`, RegistrableDomain(u)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("skip domain %s: %w", u.Host, err)
	}
	return n > 0, nil
}
