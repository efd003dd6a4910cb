package syncstate

import (
	"sort"
	"time"
)

// DocumentVersion is the envelope version written by every built-in format.
const DocumentVersion = 1

// Document is the persisted envelope of a sync state.
type Document struct {
	Version   int
	Account   Account
	Authority string
	UpdatedAt time.Time
	Entries   map[string]any
}

// RawDocument is a decoded envelope whose entries have not been bound to
// their Go types yet.
type RawDocument struct {
	Version   int
	Account   Account
	Authority string
	UpdatedAt time.Time
	Entries   map[string]RawValue
}

// RawValue is a single entry in the representation of its format. Decode
// follows the decoding rules of that format; decoding into *any yields
// generic values (maps, slices, strings, numbers, booleans).
type RawValue interface {
	Decode(target any) error
}

// Format serializes sync state documents. Implementations must be safe for
// concurrent use.
type Format interface {
	Name() string
	Marshal(doc Document) ([]byte, error)
	Unmarshal(data []byte) (RawDocument, error)
}

func sortedKeys[V any](entries map[string]V) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
