// Package syncstate keeps the key/value sync state of one account and one
// authority, loads it from persisted form and writes it back.
//
// Responsibilities:
//   - SyncState is the read/write/persist contract; Reader is the read-only
//     capability it extends, and io.Closer releases it.
//   - Key[V] binds a key name to its value type so Get and Set stay type safe
//     without a separate schema.
//   - ResolutionContext decides how entries are serialized (Format) and which
//     keys decode eagerly into their typed values (Registry).
//   - Store implementations only move opaque payloads for a single Ref; they
//     never interpret entries.
//
// Data flow:
//
//	Store.Load -> ResolutionContext.decode -> State entries
//	State entries -> ResolutionContext.encode -> Store.Save
//
// A failed Load leaves the in-memory entries untouched. Store sends the ETag
// observed by the last successful Load or Store so backends can reject writes
// that would overwrite somebody else's newer state.
//
// Typical use from a sync adapter:
//
//	var lastToken = syncstate.RegisterKey[string]("sync_token")
//
//	state, err := syncstate.New(ref, store)
//	if err != nil { ... }
//	defer state.Close()
//	if err := state.Load(ctx); err != nil && !errors.Is(err, syncstate.ErrNotFound) { ... }
//	token, _ := syncstate.Get(state, lastToken)
//	syncstate.Set(state, lastToken, next)
//	if err := state.Store(ctx); err != nil { ... }
package syncstate
