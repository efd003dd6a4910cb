package syncstate

import (
	"fmt"
	"reflect"
	"strings"
)

// Descriptor is the untyped view of a Key. It is implemented only by Key[V]
// so a descriptor always knows how to decode its own value type.
type Descriptor interface {
	Name() string
	TypeName() string
	Type() reflect.Type
	decode(raw RawValue) (any, error)
}

// Key names one sync state entry and fixes the Go type of its value.
type Key[V any] struct {
	name string
}

// NewKey returns a key for name. It panics when name is blank; keys are
// expected to be package-level declarations.
func NewKey[V any](name string) Key[V] {
	name = strings.TrimSpace(name)
	if name == "" {
		panic("syncstate: key name must not be empty")
	}
	return Key[V]{name: name}
}

func (k Key[V]) Name() string {
	return k.name
}

// TypeName reports the Go type bound to the key, e.g. "time.Time".
func (k Key[V]) TypeName() string {
	return k.Type().String()
}

func (k Key[V]) Type() reflect.Type {
	return reflect.TypeOf((*V)(nil)).Elem()
}

func (k Key[V]) String() string {
	return fmt.Sprintf("%s(%s)", k.name, k.TypeName())
}

func (k Key[V]) decode(raw RawValue) (any, error) {
	var value V
	if err := raw.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// deferredValue holds an entry loaded for a key the resolution context did
// not know about. It is decoded by the first typed Lookup for its key.
type deferredValue struct {
	raw RawValue
}

func (d *deferredValue) generic() (any, error) {
	var out any
	if err := d.raw.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func descriptorName(key Descriptor) string {
	if key == nil {
		return ""
	}
	return key.Name()
}
