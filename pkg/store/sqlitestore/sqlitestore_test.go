package sqlitestore_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-syncstate"
	"github.com/goliatone/go-syncstate/pkg/store/sqlitestore"
	"github.com/goliatone/go-syncstate/pkg/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) syncstate.Store {
		store, err := sqlitestore.Open(":memory:")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestOpenFileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "syncstate.db")
	ref := syncstate.NewRef("alice", "com.example", "calendar")

	store, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	saved, err := store.Save(context.Background(), ref, []byte("payload"), syncstate.Meta{})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := sqlitestore.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	data, meta, ok, err := reopened.Load(context.Background(), ref)
	if err != nil || !ok {
		t.Fatalf("load: ok=%t err=%v", ok, err)
	}
	if string(data) != "payload" || meta.ETag != saved.ETag {
		t.Fatalf("unexpected reload: %q %+v", data, meta)
	}
}

func TestNewUsesExistingHandle(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	store, err := sqlitestore.New(db)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrate is idempotent.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var tableName string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='sync_state'").Scan(&tableName); err != nil {
		t.Fatalf("sync_state table not found: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close of borrowed handle: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("borrowed handle must stay open: %v", err)
	}
}

func TestNewRejectsNil(t *testing.T) {
	if _, err := sqlitestore.New(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestList(t *testing.T) {
	store, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	for _, ref := range []syncstate.Ref{
		syncstate.NewRef("bob", "com.example", "contacts"),
		syncstate.NewRef("alice", "com.example", "calendar"),
	} {
		if _, err := store.Save(ctx, ref, []byte("x"), syncstate.Meta{}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	refs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 2 || refs[0].Account.Name != "alice" || refs[1].Account.Name != "bob" {
		t.Fatalf("unexpected refs %v", refs)
	}
}
