package activity

import (
	"context"
	"errors"
	"fmt"
)

// ActivityHook receives normalized activity events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// HookError reports the failure of one hook in a fan out.
type HookError struct {
	Index int
	Verb  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("activity: hook %d (%s): %v", e.Index, e.Verb, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Hooks fans out events to zero or more hooks.
type Hooks []ActivityHook

func (h Hooks) Enabled() bool {
	return len(h.compact()) > 0
}

// Notify normalizes event and forwards it to every hook. Events missing a
// verb, object type or object id are dropped. A failing or panicking hook
// does not stop the others; failures are joined as *HookError values.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}
	normalized := NormalizeEvent(event)
	if !normalized.Valid() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i, hook := range h {
		if hook == nil {
			continue
		}
		if err := notifyOne(ctx, hook, normalized); err != nil {
			errs = append(errs, &HookError{Index: i, Verb: normalized.Verb, Err: err})
		}
	}
	return errors.Join(errs...)
}

func notifyOne(ctx context.Context, hook ActivityHook, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.Notify(ctx, event)
}

// OnlyVerbs forwards to hook only the events whose verb is listed, e.g. to
// send deletions alone to an audit sink.
func OnlyVerbs(hook ActivityHook, verbs ...string) ActivityHook {
	allowed := make(map[string]bool, len(verbs))
	for _, verb := range verbs {
		allowed[verb] = true
	}
	return HookFunc(func(ctx context.Context, event Event) error {
		if hook == nil || !allowed[event.Verb] {
			return nil
		}
		return hook.Notify(ctx, event)
	})
}

func (h Hooks) compact() Hooks {
	out := make(Hooks, 0, len(h))
	for _, hook := range h {
		if hook != nil {
			out = append(out, hook)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Clone returns a copy of h without nil entries.
func (h Hooks) Clone() Hooks {
	return h.compact()
}
