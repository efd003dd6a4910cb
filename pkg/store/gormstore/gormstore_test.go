package gormstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/goliatone/go-syncstate"
	"github.com/goliatone/go-syncstate/pkg/store/gormstore"
	"github.com/goliatone/go-syncstate/pkg/store/storetest"
)

// Set SYNCSTATE_POSTGRES_DSN to a disposable database to run these tests.
func postgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SYNCSTATE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SYNCSTATE_POSTGRES_DSN not set")
	}
	return dsn
}

func TestStoreContract(t *testing.T) {
	dsn := postgresDSN(t)
	storetest.Run(t, func(t *testing.T) syncstate.Store {
		store, err := gormstore.OpenPostgres(context.Background(), dsn, gormstore.PoolConfig{})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		truncate(t, store)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestNewRejectsNil(t *testing.T) {
	if _, err := gormstore.New(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestRecordTableName(t *testing.T) {
	if got := (gormstore.Record{}).TableName(); got != "sync_state" {
		t.Fatalf("expected sync_state table, got %q", got)
	}
}

func truncate(t *testing.T, store *gormstore.Store) {
	t.Helper()
	ctx := context.Background()
	refs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, ref := range refs {
		if err := store.Delete(ctx, ref); err != nil {
			t.Fatalf("delete %s: %v", ref, err)
		}
	}
}
