package syncstate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

// Function is a host function callable from rule expressions, e.g. a
// backoff calculator or a calendar window check.
type Function func(args ...any) (any, error)

// FunctionRegistry holds functions by case-insensitive name. Lookups and
// registration are safe for concurrent use.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
	// id changes on every registration.
	id uint64
}

var functionRegistryIDs atomic.Uint64

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: map[string]Function{}, id: functionRegistryIDs.Add(1)}
}

// Register adds fn under name. Names must be identifiers that do not clash
// with an evaluator binding (now, args, metadata, state, entries, call) or
// with a function already registered.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("syncstate: function %q is nil", name)
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if err := validFunctionName(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = map[string]Function{}
	}
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("syncstate: function %q already registered", name)
	}
	r.functions[key] = fn
	r.id = functionRegistryIDs.Add(1)
	return nil
}

func validFunctionName(name string) error {
	if name == "" {
		return fmt.Errorf("syncstate: function name must not be empty")
	}
	if reservedBindings[name] || name == "duration" {
		return fmt.Errorf("syncstate: function name %q is reserved", name)
	}
	for i, c := range name {
		if c == '_' || unicode.IsLetter(c) || (i > 0 && unicode.IsDigit(c)) {
			continue
		}
		return fmt.Errorf("syncstate: function name %q is not an identifier", name)
	}
	return nil
}

// Clone returns a registry holding the same functions.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{
		functions: make(map[string]Function, len(r.functions)),
		id:        r.id,
	}
	for name, fn := range r.functions {
		clone.functions[name] = fn
	}
	return clone
}

// Call runs the function registered under name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("syncstate: function registry is nil")
	}
	r.mu.RLock()
	fn := r.functions[strings.ToLower(name)]
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("syncstate: function %q not registered", name)
	}
	return fn(args...)
}

// bound returns a Function that resolves name on every call, so evaluators
// can bind it before the registry is consulted.
func (r *FunctionRegistry) bound(name string) Function {
	return func(args ...any) (any, error) {
		return r.Call(name, args...)
	}
}

// fingerprint identifies the function set. Clones share it until either side
// registers a function. Compiled programs bind registry functions, so cache
// keys carry it.
func (r *FunctionRegistry) fingerprint() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	if r.id == 0 {
		r.id = functionRegistryIDs.Add(1)
	}
	id := r.id
	r.mu.Unlock()
	return strconv.FormatUint(id, 10)
}

// Names returns the registered names, lower-cased and sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithFunctionRegistry makes the default evaluator of a state call the
// functions in registry.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *stateConfig) {
		if registry != nil {
			cfg.functions = registry.Clone()
		}
	}
}

// WithCustomFunction registers fn under name for the default evaluator of a
// state. Invalid or duplicate names are ignored.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *stateConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		_ = cfg.functions.Register(name, fn)
	}
}
