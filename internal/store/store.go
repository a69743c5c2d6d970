package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite snapshot backend.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the tables. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  path            TEXT PRIMARY KEY,
  hash            INTEGER NOT NULL,
  signature       TEXT NOT NULL,
  issues          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS symbol_references (
  id              INTEGER PRIMARY KEY,
  kind            TEXT NOT NULL,
  from_symbol     TEXT NOT NULL DEFAULT '',
  from_member     TEXT NOT NULL DEFAULT '',
  from_file       TEXT NOT NULL DEFAULT '',
  to_symbol       TEXT NOT NULL,
  to_member       TEXT NOT NULL DEFAULT '',
  from_kind       INTEGER NOT NULL DEFAULT 0,
  to_kind         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_symbol_references_to ON symbol_references(to_symbol, to_member);
`

const (
	keyVersion      = "version"
	keyBuiltinsHash = "builtins_hash"
)

// SaveSnapshot replaces the stored snapshot within a single transaction.
func (s *Store) SaveSnapshot(snap *Snapshot) error {
	if snap == nil {
		return errors.New("save snapshot: nil snapshot")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"metadata", "files", "symbol_references"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("save snapshot: clear %s: %w", table, err)
		}
	}

	meta := map[string]string{
		keyVersion:      strconv.Itoa(snap.Version),
		keyBuiltinsHash: strconv.FormatUint(snap.BuiltinsHash, 10),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT INTO metadata (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save snapshot: metadata %s: %w", k, err)
		}
	}

	if err := insertFilesTx(tx, snap.Files); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := insertReferencesTx(tx, snap.References); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

func insertFilesTx(tx *sql.Tx, files []FileRecord) error {
	stmt, err := tx.Prepare("INSERT INTO files (path, hash, signature, issues) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare files: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		sig, err := marshalJSON(f.Signature)
		if err != nil {
			return fmt.Errorf("file %q: signature: %w", f.Path, err)
		}
		issues, err := marshalJSON(f.Issues)
		if err != nil {
			return fmt.Errorf("file %q: issues: %w", f.Path, err)
		}
		// SQLite integers are signed; the hash round-trips through its bits.
		if _, err := stmt.Exec(f.Path, int64(f.Hash), sig, issues); err != nil {
			return fmt.Errorf("file %q: %w", f.Path, err)
		}
	}
	return nil
}

func insertReferencesTx(tx *sql.Tx, references []Reference) error {
	stmt, err := tx.Prepare(`INSERT INTO symbol_references
		(kind, from_symbol, from_member, from_file, to_symbol, to_member, from_kind, to_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare references: %w", err)
	}
	defer stmt.Close()

	for _, r := range references {
		_, err := stmt.Exec(r.Kind, r.FromSymbol, r.FromMember, r.FromFile, r.ToSymbol, r.ToMember, r.FromKind, r.ToKind)
		if err != nil {
			return fmt.Errorf("reference %s %s -> %s: %w", r.Kind, r.FromSymbol, r.ToSymbol, err)
		}
	}
	return nil
}

// LoadSnapshot reads the stored snapshot. It returns nil, nil when the
// database is empty or holds a snapshot of another version.
func (s *Store) LoadSnapshot() (*Snapshot, error) {
	meta := make(map[string]string)
	rows, err := s.db.Query("SELECT key, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("load snapshot: metadata: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("load snapshot: metadata: %w", err)
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load snapshot: metadata: %w", err)
	}

	version, err := strconv.Atoi(meta[keyVersion])
	if err != nil || version != SnapshotVersion {
		return nil, nil
	}
	builtins, err := strconv.ParseUint(meta[keyBuiltinsHash], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: builtins hash: %w", err)
	}
	snap := &Snapshot{Version: version, BuiltinsHash: builtins}

	if snap.Files, err = s.loadFiles(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.References, err = s.loadReferences(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) loadFiles() ([]FileRecord, error) {
	rows, err := s.db.Query("SELECT path, hash, signature, issues FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var (
			f        FileRecord
			hash     int64
			sig, iss string
		)
		if err := rows.Scan(&f.Path, &hash, &sig, &iss); err != nil {
			return nil, fmt.Errorf("files: %w", err)
		}
		f.Hash = uint64(hash)
		if err := unmarshalJSON(sig, &f.Signature); err != nil {
			return nil, fmt.Errorf("file %q: signature: %w", f.Path, err)
		}
		if err := unmarshalJSON(iss, &f.Issues); err != nil {
			return nil, fmt.Errorf("file %q: issues: %w", f.Path, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) loadReferences() ([]Reference, error) {
	rows, err := s.db.Query(`SELECT kind, from_symbol, from_member, from_file, to_symbol, to_member, from_kind, to_kind
		FROM symbol_references ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("references: %w", err)
	}
	defer rows.Close()

	var out []Reference
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.Kind, &r.FromSymbol, &r.FromMember, &r.FromFile, &r.ToSymbol, &r.ToMember, &r.FromKind, &r.ToKind); err != nil {
			return nil, fmt.Errorf("references: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FileCount returns the number of stored files.
func (s *Store) FileCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}
