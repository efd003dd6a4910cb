// Package hydrate decodes sync state snapshots into structs through their
// json field names.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context identifies the sync state a snapshot was taken from.
type Context struct {
	State     string
	Authority string
}

// PreHook rewrites a private copy of the payload before decoding.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook adjusts or validates the decoded value.
type PostHook[T any] func(Context, *T) error

type DecoderOption[T any] func(*Decoder[T])

type Decoder[T any] struct {
	preHooks  []PreHook
	postHooks []PostHook[T]
	strict    bool
}

func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.preHooks = append(d.preHooks, hook)
		}
	}
}

func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.postHooks = append(d.postHooks, hook)
		}
	}
}

// WithDisallowUnknownFields fails on entries no field of T accepts.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.strict = true
	}
}

// WithRenamedKeys moves entries to new names before decoding, so state
// entries such as "sync-token" can land on a json tag like "syncToken".
// Entries already present under the target name win.
func WithRenamedKeys[T any](names map[string]string) DecoderOption[T] {
	return WithPreHook[T](func(_ Context, payload map[string]any) (map[string]any, error) {
		for from, to := range names {
			value, ok := payload[from]
			if !ok || from == to {
				continue
			}
			delete(payload, from)
			if _, exists := payload[to]; !exists {
				payload[to] = value
			}
		}
		return payload, nil
	})
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts payload into T. Pre-hooks run in order on a copy of
// payload, then the JSON form is decoded and post-hooks run on the result.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	if payload == nil {
		return zero, fmt.Errorf("hydrate: payload is nil for state %q", ctx.State)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return zero, fmt.Errorf("hydrate: marshal payload for state %q: %w", ctx.State, err)
	}
	if len(d.preHooks) > 0 {
		current := map[string]any{}
		if err := json.Unmarshal(raw, &current); err != nil {
			return zero, fmt.Errorf("hydrate: copy payload for state %q: %w", ctx.State, err)
		}
		for _, hook := range d.preHooks {
			next, err := hook(ctx, current)
			if err != nil {
				return zero, fmt.Errorf("hydrate: pre-hook for state %q failed: %w", ctx.State, err)
			}
			if next != nil {
				current = next
			}
		}
		if raw, err = json.Marshal(current); err != nil {
			return zero, fmt.Errorf("hydrate: marshal payload for state %q: %w", ctx.State, err)
		}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	if d.strict {
		decoder.DisallowUnknownFields()
	}
	var result T
	if err := decoder.Decode(&result); err != nil {
		return zero, fmt.Errorf("hydrate: decode state %q: %w", ctx.State, err)
	}

	for _, hook := range d.postHooks {
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for state %q failed: %w", ctx.State, err)
		}
	}
	return result, nil
}
