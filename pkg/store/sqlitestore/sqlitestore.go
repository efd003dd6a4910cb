// Package sqlitestore persists sync states in a SQLite table using the pure
// Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goliatone/go-syncstate"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	account_type TEXT NOT NULL CHECK(length(account_type) > 0),
	account_name TEXT NOT NULL CHECK(length(account_name) > 0),
	authority    TEXT NOT NULL CHECK(length(authority) > 0),
	data         BLOB NOT NULL,
	snapshot_id  TEXT NOT NULL,
	etag         TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	extra        TEXT,
	PRIMARY KEY (account_type, account_name, authority)
);`

// Store is a syncstate.Store backed by the sync_state table.
type Store struct {
	db    *sql.DB
	owned bool
}

var (
	_ syncstate.Store  = (*Store)(nil)
	_ syncstate.Lister = (*Store)(nil)
)

// Open opens (or creates) the database at path, configures it for a single
// writer with WAL journaling and applies the schema. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}

	// SQLite doesn't support multiple writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: set busy timeout: %w", err)
	}
	store := &Store{db: db, owned: true}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing handle. The caller keeps ownership of db and must
// call Migrate before first use.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlitestore: db is required")
	}
	return &Store{db: db}, nil
}

// Migrate creates the sync_state table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database when it was opened by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, ref syncstate.Ref) ([]byte, syncstate.Meta, bool, error) {
	if err := ref.Validate(); err != nil {
		return nil, syncstate.Meta{}, false, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT data, snapshot_id, etag, updated_at, extra
		FROM sync_state
		WHERE account_type = ? AND account_name = ? AND authority = ?`,
		ref.Account.Type, ref.Account.Name, ref.Authority)

	var (
		data      []byte
		meta      syncstate.Meta
		updatedAt string
		extra     sql.NullString
	)
	if err := row.Scan(&data, &meta.SnapshotID, &meta.ETag, &updatedAt, &extra); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, syncstate.Meta{}, false, nil
		}
		return nil, syncstate.Meta{}, false, fmt.Errorf("sqlitestore: load %s: %w", ref, err)
	}
	if err := decodeMeta(&meta, updatedAt, extra); err != nil {
		return nil, syncstate.Meta{}, false, fmt.Errorf("sqlitestore: load %s: %w", ref, err)
	}
	return data, meta, true, nil
}

func (s *Store) Save(ctx context.Context, ref syncstate.Ref, data []byte, meta syncstate.Meta) (syncstate.Meta, error) {
	if err := ref.Validate(); err != nil {
		return syncstate.Meta{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncstate.Meta{}, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	var current syncstate.Meta
	exists := true
	err = tx.QueryRowContext(ctx, `
		SELECT etag FROM sync_state
		WHERE account_type = ? AND account_name = ? AND authority = ?`,
		ref.Account.Type, ref.Account.Name, ref.Authority).Scan(&current.ETag)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return syncstate.Meta{}, fmt.Errorf("sqlitestore: read etag %s: %w", ref, err)
	}

	next, err := syncstate.PrepareSave(current, exists, meta)
	if err != nil {
		return syncstate.Meta{}, err
	}
	extra, err := encodeExtra(next.Extra)
	if err != nil {
		return syncstate.Meta{}, fmt.Errorf("sqlitestore: encode extra %s: %w", ref, err)
	}
	if data == nil {
		data = []byte{}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_state (account_type, account_name, authority, data, snapshot_id, etag, updated_at, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_type, account_name, authority) DO UPDATE SET
			data = excluded.data,
			snapshot_id = excluded.snapshot_id,
			etag = excluded.etag,
			updated_at = excluded.updated_at,
			extra = excluded.extra`,
		ref.Account.Type, ref.Account.Name, ref.Authority,
		data, next.SnapshotID, next.ETag, next.UpdatedAt.UTC().Format(time.RFC3339Nano), extra)
	if err != nil {
		return syncstate.Meta{}, fmt.Errorf("sqlitestore: save %s: %w", ref, err)
	}
	if err := tx.Commit(); err != nil {
		return syncstate.Meta{}, fmt.Errorf("sqlitestore: commit %s: %w", ref, err)
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, ref syncstate.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_state
		WHERE account_type = ? AND account_name = ? AND authority = ?`,
		ref.Account.Type, ref.Account.Name, ref.Authority)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", ref, err)
	}
	return nil
}

// List returns every persisted ref ordered by identifier.
func (s *Store) List(ctx context.Context) ([]syncstate.Ref, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_type, account_name, authority
		FROM sync_state`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var refs []syncstate.Ref
	for rows.Next() {
		var ref syncstate.Ref
		if err := rows.Scan(&ref.Account.Type, &ref.Account.Name, &ref.Authority); err != nil {
			return nil, fmt.Errorf("sqlitestore: list: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	// Escaped identifiers do not sort like the raw columns.
	syncstate.SortRefs(refs)
	return refs, nil
}

func decodeMeta(meta *syncstate.Meta, updatedAt string, extra sql.NullString) error {
	parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}
	meta.UpdatedAt = parsed
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &meta.Extra); err != nil {
			return fmt.Errorf("decode extra: %w", err)
		}
	}
	return nil
}

func encodeExtra(extra map[string]string) (sql.NullString, error) {
	if len(extra) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
