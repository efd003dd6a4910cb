package syncstate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goliatone/go-syncstate/internal/hydrate"
	"github.com/goliatone/go-syncstate/pkg/activity"
)

// Reader gives read access to the entries of a sync state.
type Reader interface {
	Ref() Ref
	// Lookup returns the value stored under key's name. Values loaded for keys
	// unknown to the resolution context are decoded as key's type on first
	// lookup.
	Lookup(key Descriptor) (any, bool)
	// Value returns the value stored under name. Undecoded values are returned
	// in their generic form.
	Value(name string) (any, bool)
	Names() []string
	Len() int
}

// SyncState is a key/value state scoped to one account and authority,
// persisted through a Store.
type SyncState interface {
	Reader
	io.Closer

	Load(ctx context.Context) error
	LoadWith(ctx context.Context, rc *ResolutionContext) error
	Put(key Descriptor, value any) (previous any, existed bool)
	Delete(key Descriptor) (previous any, existed bool)
	Reset()
	Store(ctx context.Context) error
	StoreWith(ctx context.Context, rc *ResolutionContext) error
}

var _ SyncState = (*State)(nil)

// State is the default SyncState. It is safe for concurrent use; Load, Store
// and Close run one at a time.
type State struct {
	ref     Ref
	store   Store
	cfg     stateConfig
	emitter *activity.Emitter

	opMu sync.Mutex

	mu       sync.RWMutex
	entries  map[string]any
	changed  map[string]struct{}
	version  uint64
	meta     Meta
	absent   bool
	closed   bool
	releases []func()

	evalOnce  sync.Once
	evaluator Evaluator
}

// New returns an empty state for ref backed by store. Call Load to populate
// it from the previously stored snapshot.
func New(ref Ref, store Store, opts ...Option) (*State, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("syncstate: store is required")
	}
	cfg := applyOptions(opts)
	return &State{
		ref:     ref,
		store:   store,
		cfg:     cfg,
		emitter: cfg.emitter(),
		entries: map[string]any{},
		changed: map[string]struct{}{},
	}, nil
}

func (s *State) Ref() Ref {
	return s.ref
}

// Meta returns the storage metadata of the last successful Load or Store.
func (s *State) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMeta(s.meta)
}

func (s *State) Lookup(key Descriptor) (any, bool) {
	name := descriptorName(key)
	if name == "" {
		return nil, false
	}
	s.mu.RLock()
	value, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	deferred, isDeferred := value.(*deferredValue)
	if !isDeferred {
		return value, true
	}
	decoded, err := key.decode(deferred.raw)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	// Only replace the raw value if nobody overwrote it meanwhile.
	if current, ok := s.entries[name].(*deferredValue); ok && current == deferred {
		s.entries[name] = decoded
	}
	s.mu.Unlock()
	return decoded, true
}

func (s *State) Value(name string) (any, bool) {
	s.mu.RLock()
	value, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if deferred, isDeferred := value.(*deferredValue); isDeferred {
		generic, err := deferred.generic()
		if err != nil {
			return nil, false
		}
		return generic, true
	}
	return value, true
}

// Names returns the entry names sorted alphabetically.
func (s *State) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.entries)
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Put stores value under key's name and returns the value it replaced.
// Prefer Set, which checks the value type at compile time.
func (s *State) Put(key Descriptor, value any) (any, bool) {
	name := descriptorName(key)
	if name == "" {
		return nil, false
	}
	s.mu.Lock()
	previous, existed := s.entries[name]
	s.entries[name] = value
	s.touch(name)
	s.mu.Unlock()
	return resolvePrevious(key, previous), existed
}

// Delete removes the entry stored under key's name.
func (s *State) Delete(key Descriptor) (any, bool) {
	name := descriptorName(key)
	if name == "" {
		return nil, false
	}
	s.mu.Lock()
	previous, existed := s.entries[name]
	if existed {
		delete(s.entries, name)
		s.touch(name)
	}
	s.mu.Unlock()
	return resolvePrevious(key, previous), existed
}

// Reset removes every entry. The next Store persists an empty state.
func (s *State) Reset() {
	s.mu.Lock()
	for name := range s.entries {
		s.touch(name)
	}
	s.entries = map[string]any{}
	s.mu.Unlock()
}

// Dirty reports whether entries changed since the last Load or Store.
func (s *State) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.changed) > 0
}

// ChangedKeys lists the entries changed since the last Load or Store.
func (s *State) ChangedKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.changed)
}

// Snapshot copies the entries into a plain map. Values that were never
// decoded as a typed key are returned in their generic form.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.entries))
	for name, value := range s.entries {
		if deferred, ok := value.(*deferredValue); ok {
			generic, err := deferred.generic()
			if err != nil {
				continue
			}
			value = generic
		}
		out[name] = value
	}
	return out
}

// Describe lists the entries with their Go types, sorted by path.
func (s *State) Describe() []FieldDescriptor {
	return DescribeSnapshot(s.Snapshot())
}

// Load replaces the entries with the stored snapshot, decoded with the
// state's resolution context.
func (s *State) Load(ctx context.Context) error {
	return s.LoadWith(ctx, nil)
}

// LoadWith is Load with an explicit resolution context. On failure the
// entries are left untouched and the error matches ErrLoad.
func (s *State) LoadWith(ctx context.Context, rc *ResolutionContext) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rc = s.resolve(rc)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	start := time.Now()
	count, meta, err := s.load(ctx, rc)
	s.cfg.logger.LogOperation(OperationLogEvent{
		Op:         OpLoad,
		Ref:        s.ref,
		Format:     rc.Format().Name(),
		Entries:    count,
		SnapshotID: meta.SnapshotID,
		Duration:   time.Since(start),
		Err:        err,
	})
	if err != nil {
		return &OpError{Op: OpLoad, Ref: s.ref, Err: err}
	}
	s.emit(ctx, activity.BuildStateLoadedEvent(s.eventInput(rc, meta, count, nil)))
	return nil
}

func (s *State) load(ctx context.Context, rc *ResolutionContext) (int, Meta, error) {
	if s.isClosed() {
		return 0, Meta{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, Meta{}, err
	}
	data, meta, ok, err := s.store.Load(ctx, s.ref)
	if err != nil {
		return 0, Meta{}, err
	}
	if !ok {
		s.mu.Lock()
		s.absent = true
		s.mu.Unlock()
		return 0, Meta{}, ErrNotFound
	}
	entries, err := rc.decode(s.ref, data)
	if err != nil {
		return 0, Meta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, Meta{}, ErrClosed
	}
	s.entries = entries
	s.changed = map[string]struct{}{}
	s.version++
	s.meta = cloneMeta(meta)
	s.absent = false
	return len(entries), meta, nil
}

// Store persists the entries with the state's resolution context.
func (s *State) Store(ctx context.Context) error {
	return s.StoreWith(ctx, nil)
}

// StoreWith is Store with an explicit resolution context. Failures match
// ErrStore; a concurrent writer is reported as ErrETagMismatch.
func (s *State) StoreWith(ctx context.Context, rc *ResolutionContext) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rc = s.resolve(rc)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	start := time.Now()
	count, meta, changed, err := s.save(ctx, rc)
	s.cfg.logger.LogOperation(OperationLogEvent{
		Op:         OpStore,
		Ref:        s.ref,
		Format:     rc.Format().Name(),
		Entries:    count,
		SnapshotID: meta.SnapshotID,
		Duration:   time.Since(start),
		Err:        err,
	})
	if err != nil {
		return &OpError{Op: OpStore, Ref: s.ref, Err: err}
	}
	s.emit(ctx, activity.BuildStateStoredEvent(s.eventInput(rc, meta, count, changed)))
	return nil
}

func (s *State) save(ctx context.Context, rc *ResolutionContext) (int, Meta, []string, error) {
	if s.isClosed() {
		return 0, Meta{}, nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, Meta{}, nil, err
	}

	s.mu.RLock()
	entries, err := encodableEntries(s.entries)
	version := s.version
	current := cloneMeta(s.meta)
	absent := s.absent
	changed := sortedKeys(s.changed)
	s.mu.RUnlock()
	if err != nil {
		return 0, Meta{}, nil, err
	}

	now := s.cfg.clock()
	data, err := rc.encode(s.ref, entries, now)
	if err != nil {
		return 0, Meta{}, nil, fmt.Errorf("encode %s: %w", rc.Format().Name(), err)
	}

	// A load that found nothing turns the first save into a create.
	requested := Meta{ETag: current.ETag, UpdatedAt: now, Extra: current.Extra, IfAbsent: absent}
	if s.cfg.skipETag {
		requested.ETag = ""
		requested.IfAbsent = false
	}
	saved, err := s.store.Save(ctx, s.ref, data, requested)
	if err != nil {
		return 0, Meta{}, nil, err
	}

	s.mu.Lock()
	s.meta = cloneMeta(saved)
	s.absent = false
	if s.version == version {
		s.changed = map[string]struct{}{}
	}
	s.mu.Unlock()
	return len(entries), saved, changed, nil
}

// Close releases the state. The entries are dropped and later Load or Store
// calls fail with ErrClosed. Close is idempotent.
func (s *State) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	count := len(s.entries)
	s.entries = map[string]any{}
	s.changed = map[string]struct{}{}
	s.version++
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
	s.cfg.logger.LogOperation(OperationLogEvent{Op: OpClose, Ref: s.ref, Entries: count})
	return nil
}

// Closed reports whether Close was called.
func (s *State) Closed() bool {
	return s.isClosed()
}

func (s *State) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// onRelease registers fn to run once when the state is closed.
func (s *State) onRelease(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.releases = append(s.releases, fn)
	s.mu.Unlock()
}

func (s *State) touch(name string) {
	s.changed[name] = struct{}{}
	s.version++
}

func (s *State) resolve(rc *ResolutionContext) *ResolutionContext {
	if rc != nil {
		return rc
	}
	return s.cfg.context
}

func (s *State) emit(ctx context.Context, event activity.Event) {
	if !s.emitter.Enabled() {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.cfg.logger.LogOperation(OperationLogEvent{Op: OpActivity, Ref: s.ref, Err: err})
	}
}

func (s *State) eventInput(rc *ResolutionContext, meta Meta, count int, keys []string) activity.StateEventInput {
	identifier, _ := s.ref.Identifier()
	return activity.StateEventInput{
		Identifier:  identifier,
		AccountName: s.ref.Account.Name,
		AccountType: s.ref.Account.Type,
		Authority:   s.ref.Authority,
		SnapshotID:  meta.SnapshotID,
		Format:      rc.Format().Name(),
		Keys:        keys,
		Entries:     count,
		OccurredAt:  s.cfg.clock(),
	}
}

func encodableEntries(entries map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(entries))
	for name, value := range entries {
		if deferred, ok := value.(*deferredValue); ok {
			generic, err := deferred.generic()
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", name, err)
			}
			value = generic
		}
		out[name] = value
	}
	return out, nil
}

func resolvePrevious(key Descriptor, previous any) any {
	deferred, ok := previous.(*deferredValue)
	if !ok {
		return previous
	}
	if value, err := key.decode(deferred.raw); err == nil {
		return value
	}
	if value, err := deferred.generic(); err == nil {
		return value
	}
	return nil
}

// Get returns the value of key. A missing entry, or one holding a value of
// another type, reports false.
func Get[V any](r Reader, key Key[V]) (V, bool) {
	var zero V
	if r == nil {
		return zero, false
	}
	value, ok := r.Lookup(key)
	if !ok {
		return zero, false
	}
	typed, ok := value.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

// GetOr returns the value of key or fallback when Get reports false.
func GetOr[V any](r Reader, key Key[V], fallback V) V {
	if value, ok := Get(r, key); ok {
		return value
	}
	return fallback
}

// Set stores value under key and returns the value it replaced.
func Set[V any](s SyncState, key Key[V], value V) (V, bool) {
	var zero V
	previous, existed := s.Put(key, value)
	if !existed {
		return zero, false
	}
	typed, ok := previous.(V)
	if !ok {
		return zero, true
	}
	return typed, true
}

// SnapshotOf copies the entries of any Reader into a plain map.
func SnapshotOf(r Reader) map[string]any {
	if state, ok := r.(interface{ Snapshot() map[string]any }); ok {
		return state.Snapshot()
	}
	names := r.Names()
	out := make(map[string]any, len(names))
	for _, name := range names {
		if value, ok := r.Value(name); ok {
			out[name] = value
		}
	}
	return out
}

// BindOption configures Bind.
type BindOption func(*bindConfig)

type bindConfig struct {
	strict  bool
	renames map[string]string
}

// BindStrict makes Bind fail when an entry matches no field of the target.
func BindStrict() BindOption {
	return func(cfg *bindConfig) {
		cfg.strict = true
	}
}

// BindRename decodes the entry named from into the field tagged to.
func BindRename(from, to string) BindOption {
	return func(cfg *bindConfig) {
		if cfg.renames == nil {
			cfg.renames = map[string]string{}
		}
		cfg.renames[from] = to
	}
}

// Bind hydrates T from the entries of r using their json field names.
func Bind[T any](r Reader, opts ...BindOption) (T, error) {
	var cfg bindConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	var decoderOpts []hydrate.DecoderOption[T]
	if len(cfg.renames) > 0 {
		decoderOpts = append(decoderOpts, hydrate.WithRenamedKeys[T](cfg.renames))
	}
	if cfg.strict {
		decoderOpts = append(decoderOpts, hydrate.WithDisallowUnknownFields[T]())
	}
	ref := r.Ref()
	return hydrate.NewDecoder[T](decoderOpts...).Decode(hydrate.Context{State: ref.String(), Authority: ref.Authority}, SnapshotOf(r))
}
