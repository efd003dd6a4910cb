// Package gormstore persists sync states in a relational database through
// gorm. OpenPostgres connects to PostgreSQL; New accepts any gorm handle
// whose dialect supports bytea and jsonb columns.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-syncstate"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// PoolConfig tunes the connection pool opened by OpenPostgres. Zero values
// select the defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a syncstate.Store backed by the sync_state table.
type Store struct {
	db    *gorm.DB
	owned bool
}

var (
	_ syncstate.Store  = (*Store)(nil)
	_ syncstate.Lister = (*Store)(nil)
)

// OpenPostgres connects to dsn, verifies the connection and migrates the
// schema.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open db: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("gormstore: db handle: %w", err)
	}

	maxOpen := pool.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = defaultMaxIdleConns
	}
	connMaxLifetime := pool.ConnMaxLifetime
	if connMaxLifetime == 0 {
		connMaxLifetime = defaultConnMaxLifetime
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("gormstore: db ping: %w", err)
	}

	store := &Store{db: gormDB, owned: true}
	if err := store.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing gorm handle owned by the caller.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("gormstore: db is required")
	}
	return &Store{db: db}, nil
}

// Migrate creates or updates the sync_state table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

// Close closes the connection pool when it was opened by OpenPostgres.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Load(ctx context.Context, ref syncstate.Ref) ([]byte, syncstate.Meta, bool, error) {
	if err := ref.Validate(); err != nil {
		return nil, syncstate.Meta{}, false, err
	}
	var record Record
	if err := s.db.WithContext(ctx).
		Where("account_type = ? AND account_name = ? AND authority = ?", ref.Account.Type, ref.Account.Name, ref.Authority).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, syncstate.Meta{}, false, nil
		}
		return nil, syncstate.Meta{}, false, fmt.Errorf("gormstore: load %s: %w", ref, err)
	}
	meta, err := recordMeta(record)
	if err != nil {
		return nil, syncstate.Meta{}, false, fmt.Errorf("gormstore: load %s: %w", ref, err)
	}
	data := record.Data
	if data == nil {
		data = []byte{}
	}
	return data, meta, true, nil
}

// Save writes data in a transaction. Updates are conditional on the etag
// read in that transaction, so a concurrent writer surfaces as
// syncstate.ErrETagMismatch instead of a lost update.
func (s *Store) Save(ctx context.Context, ref syncstate.Ref, data []byte, meta syncstate.Meta) (syncstate.Meta, error) {
	if err := ref.Validate(); err != nil {
		return syncstate.Meta{}, err
	}
	var saved syncstate.Meta
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Record
		exists := true
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_type = ? AND account_name = ? AND authority = ?", ref.Account.Type, ref.Account.Name, ref.Authority).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
		} else if err != nil {
			return err
		}

		next, err := syncstate.PrepareSave(syncstate.Meta{ETag: existing.ETag}, exists, meta)
		if err != nil {
			return err
		}
		record, err := newRecord(ref, data, next)
		if err != nil {
			return err
		}

		if !exists {
			create := tx
			if meta.ETag == "" && !meta.IfAbsent {
				// Unconditional writes may replace a row created concurrently.
				create = tx.Clauses(clause.OnConflict{
					Columns: []clause.Column{
						{Name: "account_type"},
						{Name: "account_name"},
						{Name: "authority"},
					},
					UpdateAll: true,
				})
			}
			if err := create.Create(&record).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: state created concurrently", syncstate.ErrETagMismatch)
				}
				return err
			}
			saved = next
			return nil
		}

		result := tx.Model(&Record{}).
			Where("account_type = ? AND account_name = ? AND authority = ? AND etag = ?",
				ref.Account.Type, ref.Account.Name, ref.Authority, existing.ETag).
			Updates(map[string]interface{}{
				"data":        record.Data,
				"snapshot_id": record.SnapshotID,
				"etag":        record.ETag,
				"updated_at":  record.UpdatedAt,
				"extra":       record.Extra,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: expected %q", syncstate.ErrETagMismatch, existing.ETag)
		}
		saved = next
		return nil
	})
	if err != nil {
		if errors.Is(err, syncstate.ErrETagMismatch) {
			return syncstate.Meta{}, err
		}
		return syncstate.Meta{}, fmt.Errorf("gormstore: save %s: %w", ref, err)
	}
	return saved, nil
}

func (s *Store) Delete(ctx context.Context, ref syncstate.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Delete(&Record{}, "account_type = ? AND account_name = ? AND authority = ?", ref.Account.Type, ref.Account.Name, ref.Authority).
		Error
	if err != nil {
		return fmt.Errorf("gormstore: delete %s: %w", ref, err)
	}
	return nil
}

// List returns every persisted ref ordered by identifier.
func (s *Store) List(ctx context.Context) ([]syncstate.Ref, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Select("account_type", "account_name", "authority").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list: %w", err)
	}
	refs := make([]syncstate.Ref, 0, len(records))
	for _, record := range records {
		refs = append(refs, syncstate.NewRef(record.AccountName, record.AccountType, record.Authority))
	}
	syncstate.SortRefs(refs)
	return refs, nil
}

func newRecord(ref syncstate.Ref, data []byte, meta syncstate.Meta) (Record, error) {
	if data == nil {
		data = []byte{}
	}
	record := Record{
		AccountType: ref.Account.Type,
		AccountName: ref.Account.Name,
		Authority:   ref.Authority,
		Data:        data,
		SnapshotID:  meta.SnapshotID,
		ETag:        meta.ETag,
		UpdatedAt:   meta.UpdatedAt.UTC(),
	}
	if len(meta.Extra) > 0 {
		extra, err := json.Marshal(meta.Extra)
		if err != nil {
			return Record{}, fmt.Errorf("encode extra: %w", err)
		}
		record.Extra = extra
	}
	return record, nil
}

func recordMeta(record Record) (syncstate.Meta, error) {
	meta := syncstate.Meta{
		SnapshotID: record.SnapshotID,
		ETag:       record.ETag,
		UpdatedAt:  record.UpdatedAt.UTC(),
	}
	if len(record.Extra) > 0 {
		if err := json.Unmarshal(record.Extra, &meta.Extra); err != nil {
			return syncstate.Meta{}, fmt.Errorf("decode extra: %w", err)
		}
	}
	return meta, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
