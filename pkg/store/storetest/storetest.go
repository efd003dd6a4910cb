// Package storetest holds the behaviour every syncstate.Store must share.
// Backends call Run from their own tests.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-syncstate"
)

// Factory returns an empty store. Cleanup should be registered on t.
type Factory func(t *testing.T) syncstate.Store

var (
	calendarRef = syncstate.NewRef("alice@example.com", "com.example.caldav", "com.example.calendar")
	contactsRef = syncstate.NewRef("alice@example.com", "com.example.caldav", "com.example.contacts")
	slashRef    = syncstate.NewRef("team/ops", "com.example/dav", "tasks")
	fixedTime   = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
)

// Run executes the contract suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	cases := []struct {
		name string
		run  func(t *testing.T, store syncstate.Store)
	}{
		{"load missing", testLoadMissing},
		{"save and load", testSaveAndLoad},
		{"save assigns ids", testSaveAssignsIDs},
		{"overwrite with current etag", testOverwriteCurrentETag},
		{"stale etag rejected", testStaleETag},
		{"blank etag overwrites", testBlankETag},
		{"create only", testCreateOnly},
		{"delete", testDelete},
		{"refs are isolated", testIsolation},
		{"escaped identifiers", testEscaped},
		{"state round trip", testStateRoundTrip},
		{"concurrent creators", testConcurrentCreators},
		{"list order", testListOrder},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, factory(t))
		})
	}
}

func testLoadMissing(t *testing.T, store syncstate.Store) {
	data, meta, ok, err := store.Load(context.Background(), calendarRef)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok || data != nil || meta.ETag != "" {
		t.Fatalf("expected nothing persisted, got ok=%t data=%q meta=%+v", ok, data, meta)
	}
}

func testSaveAndLoad(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	payload := []byte(`{"version":1}`)
	saved, err := store.Save(ctx, calendarRef, payload, syncstate.Meta{
		SnapshotID: "snap-1",
		UpdatedAt:  fixedTime,
		Extra:      map[string]string{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.SnapshotID != "snap-1" {
		t.Fatalf("expected caller snapshot id kept, got %q", saved.SnapshotID)
	}
	if !saved.UpdatedAt.Equal(fixedTime) {
		t.Fatalf("expected updated_at %v, got %v", fixedTime, saved.UpdatedAt)
	}

	data, meta, ok, err := store.Load(ctx, calendarRef)
	if err != nil || !ok {
		t.Fatalf("load: ok=%t err=%v", ok, err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("payload mismatch: want %q got %q", payload, data)
	}
	assertMeta(t, saved, meta)
	if meta.Extra["origin"] != "test" {
		t.Fatalf("expected extra metadata, got %+v", meta.Extra)
	}

	// Payloads must be copies.
	data[0] = 'X'
	again, _, _, err := store.Load(ctx, calendarRef)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !bytes.Equal(again, payload) {
		t.Fatalf("stored payload changed through returned slice: %q", again)
	}
}

func testSaveAssignsIDs(t *testing.T, store syncstate.Store) {
	saved, err := store.Save(context.Background(), calendarRef, []byte("a"), syncstate.Meta{})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.SnapshotID == "" || saved.ETag == "" {
		t.Fatalf("expected generated snapshot id and etag, got %+v", saved)
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatalf("expected updated_at to be stamped")
	}
}

func testOverwriteCurrentETag(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	first, err := store.Save(ctx, calendarRef, []byte("one"), syncstate.Meta{})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	second, err := store.Save(ctx, calendarRef, []byte("two"), syncstate.Meta{ETag: first.ETag})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if second.ETag == first.ETag {
		t.Fatalf("expected a fresh etag on overwrite")
	}
	data, meta, _, err := store.Load(ctx, calendarRef)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "two" || meta.ETag != second.ETag {
		t.Fatalf("expected second write persisted, got %q %+v", data, meta)
	}
}

func testStaleETag(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	first, err := store.Save(ctx, calendarRef, []byte("one"), syncstate.Meta{})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, err := store.Save(ctx, calendarRef, []byte("two"), syncstate.Meta{ETag: first.ETag}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	_, err = store.Save(ctx, calendarRef, []byte("three"), syncstate.Meta{ETag: first.ETag})
	if !errors.Is(err, syncstate.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
	data, _, _, err := store.Load(ctx, calendarRef)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("rejected write must not persist, got %q", data)
	}
}

func testBlankETag(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	if _, err := store.Save(ctx, calendarRef, []byte("one"), syncstate.Meta{}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, err := store.Save(ctx, calendarRef, []byte("two"), syncstate.Meta{}); err != nil {
		t.Fatalf("blank etag save: %v", err)
	}
	// An etag for a state that no longer exists is not a conflict.
	if _, err := store.Save(ctx, contactsRef, []byte("c"), syncstate.Meta{ETag: "gone"}); err != nil {
		t.Fatalf("save with etag on missing state: %v", err)
	}
}

func testCreateOnly(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	if _, err := store.Save(ctx, calendarRef, []byte("one"), syncstate.Meta{IfAbsent: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.Save(ctx, calendarRef, []byte("two"), syncstate.Meta{IfAbsent: true})
	if !errors.Is(err, syncstate.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch for existing state, got %v", err)
	}
	data, _, _, err := store.Load(ctx, calendarRef)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "one" {
		t.Fatalf("rejected create must not persist, got %q", data)
	}
}

func testDelete(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	if err := store.Delete(ctx, calendarRef); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if _, err := store.Save(ctx, calendarRef, []byte("one"), syncstate.Meta{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, calendarRef); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, _, ok, err := store.Load(ctx, calendarRef)
	if err != nil || ok {
		t.Fatalf("expected deleted state to be missing, ok=%t err=%v", ok, err)
	}
}

func testIsolation(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	if _, err := store.Save(ctx, calendarRef, []byte("calendar"), syncstate.Meta{}); err != nil {
		t.Fatalf("save calendar: %v", err)
	}
	if _, err := store.Save(ctx, contactsRef, []byte("contacts"), syncstate.Meta{}); err != nil {
		t.Fatalf("save contacts: %v", err)
	}
	if err := store.Delete(ctx, contactsRef); err != nil {
		t.Fatalf("delete contacts: %v", err)
	}
	data, _, ok, err := store.Load(ctx, calendarRef)
	if err != nil || !ok || string(data) != "calendar" {
		t.Fatalf("expected calendar state untouched, got %q ok=%t err=%v", data, ok, err)
	}
}

func testEscaped(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	if _, err := store.Save(ctx, slashRef, []byte("tasks"), syncstate.Meta{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, _, ok, err := store.Load(ctx, slashRef)
	if err != nil || !ok || string(data) != "tasks" {
		t.Fatalf("expected escaped ref to round trip, got %q ok=%t err=%v", data, ok, err)
	}
}

var (
	syncTokenKey  = syncstate.NewKey[string]("sync_token")
	collectionKey = syncstate.NewKey[[]string]("collections")
)

func testStateRoundTrip(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	rc := syncstate.NewContext(syncstate.JSONFormat(), syncstate.WithRegistry(registry()))

	writer, err := syncstate.New(calendarRef, store, syncstate.WithContext(rc))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	syncstate.Set(writer, syncTokenKey, "tok-42")
	syncstate.Set(writer, collectionKey, []string{"home", "work"})
	if err := writer.Store(ctx); err != nil {
		t.Fatalf("store: %v", err)
	}

	reader, err := syncstate.New(calendarRef, store, syncstate.WithContext(rc))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if err := reader.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, _ := syncstate.Get(reader, syncTokenKey); got != "tok-42" {
		t.Fatalf("expected sync token, got %q", got)
	}
	if got, _ := syncstate.Get(reader, collectionKey); len(got) != 2 || got[1] != "work" {
		t.Fatalf("expected collections, got %v", got)
	}
	if reader.Meta().ETag != writer.Meta().ETag {
		t.Fatalf("expected reader and writer to agree on etag")
	}
}

func testConcurrentCreators(t *testing.T, store syncstate.Store) {
	ctx := context.Background()
	rc := syncstate.NewContext(syncstate.JSONFormat(), syncstate.WithRegistry(registry()))

	states := make([]*syncstate.State, 2)
	for i := range states {
		state, err := syncstate.New(calendarRef, store, syncstate.WithContext(rc))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if err := state.Load(ctx); !errors.Is(err, syncstate.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		states[i] = state
	}

	syncstate.Set(states[0], syncTokenKey, "from-a")
	if err := states[0].Store(ctx); err != nil {
		t.Fatalf("first store: %v", err)
	}
	syncstate.Set(states[1], syncTokenKey, "from-b")
	if err := states[1].Store(ctx); !errors.Is(err, syncstate.ErrETagMismatch) {
		t.Fatalf("expected second creator to conflict, got %v", err)
	}

	reader, err := syncstate.New(calendarRef, store, syncstate.WithContext(rc))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if err := reader.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, _ := syncstate.Get(reader, syncTokenKey); got != "from-a" {
		t.Fatalf("expected first write kept, got %q", got)
	}
}

func testListOrder(t *testing.T, store syncstate.Store) {
	lister, ok := store.(syncstate.Lister)
	if !ok {
		t.Skip("store does not list")
	}
	ctx := context.Background()
	refs := []syncstate.Ref{
		syncstate.NewRef("z", "a", "x"),
		syncstate.NewRef("n", "t", ".hidden"),
		syncstate.NewRef("z", "a b", "x"),
		syncstate.NewRef("100%off", "a", "x"),
	}
	for _, ref := range refs {
		if _, err := store.Save(ctx, ref, []byte("x"), syncstate.Meta{}); err != nil {
			t.Fatalf("save %s: %v", ref, err)
		}
	}

	listed, err := lister.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]string, 0, len(listed))
	for _, ref := range listed {
		identifier, err := ref.Identifier()
		if err != nil {
			t.Fatalf("identifier: %v", err)
		}
		got = append(got, identifier)
	}
	want := []string{"a%20b/z/x", "a/100%25off/x", "a/z/x", "t/n/.hidden"}
	if len(got) != len(want) {
		t.Fatalf("list mismatch: want %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("list mismatch: want %v got %v", want, got)
		}
	}
}

func registry() *syncstate.Registry {
	r := syncstate.NewRegistry()
	r.MustRegister(syncTokenKey, collectionKey)
	return r
}

func assertMeta(t *testing.T, want, got syncstate.Meta) {
	t.Helper()
	if want.SnapshotID != got.SnapshotID || want.ETag != got.ETag {
		t.Fatalf("meta mismatch: want %+v got %+v", want, got)
	}
	if !want.UpdatedAt.Equal(got.UpdatedAt) {
		t.Fatalf("updated_at mismatch: want %v got %v", want.UpdatedAt, got.UpdatedAt)
	}
}
