package syncstate

import (
	"fmt"
	"time"
)

// ResolutionContext decides how a sync state is turned into bytes and back:
// the Format writes the envelope and the Registry binds entry names to typed
// keys. A ResolutionContext is immutable and safe to share.
type ResolutionContext struct {
	format   Format
	registry *Registry
}

// ContextOption configures a ResolutionContext.
type ContextOption func(*ResolutionContext)

// WithRegistry replaces the default registry.
func WithRegistry(registry *Registry) ContextOption {
	return func(rc *ResolutionContext) {
		if registry != nil {
			rc.registry = registry
		}
	}
}

// NewContext builds a context for format. A nil format falls back to JSON.
func NewContext(format Format, opts ...ContextOption) *ResolutionContext {
	if format == nil {
		format = JSONFormat()
	}
	rc := &ResolutionContext{
		format:   format,
		registry: defaultRegistry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(rc)
		}
	}
	return rc
}

// DefaultContext is JSON plus the default registry.
func DefaultContext() *ResolutionContext {
	return NewContext(JSONFormat())
}

func (rc *ResolutionContext) Format() Format {
	return rc.format
}

func (rc *ResolutionContext) Registry() *Registry {
	return rc.registry
}

func (rc *ResolutionContext) encode(ref Ref, entries map[string]any, now time.Time) ([]byte, error) {
	return rc.format.Marshal(Document{
		Version:   DocumentVersion,
		Account:   ref.Account,
		Authority: ref.Authority,
		UpdatedAt: now,
		Entries:   entries,
	})
}

// decode parses data and binds registered entries to their typed values.
// Every failure is reported as ErrCorrupt.
func (rc *ResolutionContext) decode(ref Ref, data []byte) (map[string]any, error) {
	doc, err := rc.format.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != DocumentVersion {
		return nil, corruptf("unsupported document version %d", doc.Version)
	}
	if doc.Account != ref.Account || doc.Authority != ref.Authority {
		return nil, corruptf("document belongs to %s", Ref{Account: doc.Account, Authority: doc.Authority})
	}

	entries := make(map[string]any, len(doc.Entries))
	for name, raw := range doc.Entries {
		if raw == nil {
			continue
		}
		desc, ok := rc.registry.Lookup(name)
		if !ok {
			entries[name] = &deferredValue{raw: raw}
			continue
		}
		value, err := desc.decode(raw)
		if err != nil {
			return nil, corruptf("entry %q as %s: %v", name, desc.TypeName(), err)
		}
		entries[name] = value
	}
	return entries, nil
}
