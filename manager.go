package syncstate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goliatone/go-syncstate/pkg/activity"
)

const defaultUpdateAttempts = 3

// Manager hands out at most one live State per ref over a shared Store.
type Manager struct {
	store      Store
	stateOpts  []Option
	cfg        stateConfig
	emitter    *activity.Emitter
	loadOnOpen bool
	attempts   int

	mu       sync.Mutex
	open     map[string]*State
	updating map[string]*refLock
	closed   bool
}

// refLock serializes Update calls on one identifier. waiters counts the
// calls holding or queued on mu so the entry can be dropped when idle.
type refLock struct {
	mu      sync.Mutex
	waiters int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStateOptions applies opts to every State the manager creates.
func WithStateOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.stateOpts = append(m.stateOpts, opts...)
	}
}

// LoadOnOpen makes Open load the stored snapshot. A missing snapshot yields
// an empty state.
func LoadOnOpen() ManagerOption {
	return func(m *Manager) {
		m.loadOnOpen = true
	}
}

// WithUpdateAttempts bounds how often Update retries after a concurrent write.
func WithUpdateAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("syncstate: store is required")
	}
	m := &Manager{
		store:    store,
		attempts: defaultUpdateAttempts,
		open:     map[string]*State{},
		updating: map[string]*refLock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.cfg = applyOptions(m.stateOpts)
	m.emitter = m.cfg.emitter()
	return m, nil
}

// Open returns a new State for ref. It fails with ErrAlreadyOpen while an
// earlier State for the same ref has not been closed.
func (m *Manager) Open(ctx context.Context, ref Ref) (*State, error) {
	identifier, err := ref.Identifier()
	if err != nil {
		return nil, err
	}
	state, err := New(ref, m.store, m.stateOpts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := m.open[identifier]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, ref)
	}
	m.open[identifier] = state
	m.mu.Unlock()

	state.onRelease(func() { m.forget(identifier, state) })

	if m.loadOnOpen {
		if err := state.Load(ctx); err != nil && !errors.Is(err, ErrNotFound) {
			_ = state.Close()
			return nil, err
		}
	}
	return state, nil
}

// Update loads the state of ref, applies fn and stores the result, retrying
// from a fresh load when another writer stored in between. Concurrent Update
// calls for the same ref run one after another. The ref must not be open.
func (m *Manager) Update(ctx context.Context, ref Ref, fn func(*State) error) error {
	if fn == nil {
		return errors.New("syncstate: update function is required")
	}
	identifier, err := ref.Identifier()
	if err != nil {
		return err
	}
	unlock := m.lockRef(identifier)
	defer unlock()

	for attempt := 0; attempt < m.attempts; attempt++ {
		err = m.update(ctx, ref, fn)
		if !errors.Is(err, ErrETagMismatch) {
			return err
		}
	}
	return err
}

func (m *Manager) lockRef(identifier string) func() {
	m.mu.Lock()
	lock, ok := m.updating[identifier]
	if !ok {
		lock = &refLock{}
		m.updating[identifier] = lock
	}
	lock.waiters++
	m.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		m.mu.Lock()
		lock.waiters--
		if lock.waiters == 0 {
			delete(m.updating, identifier)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) update(ctx context.Context, ref Ref, fn func(*State) error) error {
	state, err := m.Open(ctx, ref)
	if err != nil {
		return err
	}
	defer state.Close()
	if !m.loadOnOpen {
		if err := state.Load(ctx); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if err := fn(state); err != nil {
		return err
	}
	return state.Store(ctx)
}

// Remove deletes the persisted state of ref. States already open keep their
// in-memory entries.
func (m *Manager) Remove(ctx context.Context, ref Ref) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	start := time.Now()
	err := m.store.Delete(ctx, ref)
	m.cfg.logger.LogOperation(OperationLogEvent{
		Op:       OpDelete,
		Ref:      ref,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return &OpError{Op: OpDelete, Ref: ref, Err: err}
	}
	if m.emitter.Enabled() {
		identifier, _ := ref.Identifier()
		event := activity.BuildStateDeletedEvent(activity.StateEventInput{
			Identifier:  identifier,
			AccountName: ref.Account.Name,
			AccountType: ref.Account.Type,
			Authority:   ref.Authority,
			OccurredAt:  m.cfg.clock(),
		})
		if err := m.emitter.Emit(ctx, event); err != nil {
			m.cfg.logger.LogOperation(OperationLogEvent{Op: OpActivity, Ref: ref, Err: err})
		}
	}
	return nil
}

// Len reports the number of open states.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Close closes every open state, then the store when it is an io.Closer.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	states := make([]*State, 0, len(m.open))
	for _, state := range m.open {
		states = append(states, state)
	}
	m.mu.Unlock()

	var errs []error
	for _, state := range states {
		if err := state.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := m.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) forget(identifier string, state *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open[identifier] == state {
		delete(m.open, identifier)
	}
}
