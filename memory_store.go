package syncstate

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store intended for tests, examples and
// short-lived processes. It uses Ref.Identifier() as its key.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	data []byte
	meta Meta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]memoryRecord{}}
}

func (s *MemoryStore) Load(_ context.Context, ref Ref) ([]byte, Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return nil, Meta{}, false, err
	}

	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, Meta{}, false, nil
	}
	return append([]byte(nil), record.data...), cloneMeta(record.meta), true, nil
}

func (s *MemoryStore) Save(_ context.Context, ref Ref, data []byte, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.records[key]
	next, err := PrepareSave(current.meta, exists, meta)
	if err != nil {
		return Meta{}, err
	}
	s.records[key] = memoryRecord{data: append([]byte(nil), data...), meta: next}
	return cloneMeta(next), nil
}

func (s *MemoryStore) Delete(_ context.Context, ref Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// List returns the persisted refs ordered by identifier.
func (s *MemoryStore) List(_ context.Context) ([]Ref, error) {
	s.mu.RLock()
	identifiers := sortedKeys(s.records)
	s.mu.RUnlock()

	refs := make([]Ref, 0, len(identifiers))
	for _, identifier := range identifiers {
		ref, err := ParseIdentifier(identifier)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Len reports the number of persisted states.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
