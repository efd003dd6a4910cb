package activity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeEventTrimsClonesAndDefaults(t *testing.T) {
	meta := map[string]any{"authority": "com.example.calendar"}
	recipients := []string{" ops@example.com ", "audit "}
	evt := Event{
		Verb:           " syncstate.stored ",
		ActorID:        " adapter ",
		UserID:         " user ",
		TenantID:       " tenant ",
		ObjectType:     " syncstate ",
		ObjectID:       " com.example/alice/calendar ",
		Channel:        " sync ",
		DefinitionCode: " def ",
		Recipients:     recipients,
		Metadata:       meta,
	}

	got := NormalizeEvent(evt)

	if got.Verb != "syncstate.stored" || got.ObjectType != "syncstate" || got.ObjectID != "com.example/alice/calendar" {
		t.Fatalf("unexpected normalized fields: %+v", got)
	}
	if got.ActorID != "adapter" || got.UserID != "user" || got.TenantID != "tenant" || got.Channel != "sync" || got.DefinitionCode != "def" {
		t.Fatalf("unexpected trimming: %+v", got)
	}
	if got.OccurredAt.IsZero() {
		t.Fatalf("expected OccurredAt to be set")
	}
	got.Metadata["authority"] = "changed"
	if evt.Metadata["authority"] != "com.example.calendar" {
		t.Fatalf("expected original metadata untouched: %+v", evt.Metadata)
	}
	got.Recipients[0] = "changed"
	if recipients[0] != " ops@example.com " {
		t.Fatalf("expected original recipients untouched: %+v", recipients)
	}
}

func TestHooksNotifyDropsIncompleteEvents(t *testing.T) {
	capture := &CaptureHook{}
	hooks := Hooks{capture}
	if err := hooks.Notify(context.Background(), Event{Verb: VerbStateLoaded}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(capture.Events) != 0 {
		t.Fatalf("expected no events captured, got %d", len(capture.Events))
	}
}

func TestHooksNotifyFanOutAndJoinErrors(t *testing.T) {
	capture := &CaptureHook{}
	boom1 := errors.New("boom1")
	boom2 := errors.New("boom2")
	var ctxSeen bool
	hooks := Hooks{
		HookFunc(func(ctx context.Context, _ Event) error {
			ctxSeen = ctx != nil
			return nil
		}),
		capture,
		HookFunc(func(context.Context, Event) error { return boom1 }),
		nil,
		HookFunc(func(context.Context, Event) error { return boom2 }),
	}

	//nolint:staticcheck // nil context is part of the contract under test
	err := hooks.Notify(nil, Event{Verb: VerbStateStored, ObjectType: ObjectTypeState, ObjectID: "1"})
	if !errors.Is(err, boom1) || !errors.Is(err, boom2) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if !ctxSeen {
		t.Fatalf("expected context fallback to be non-nil")
	}
	if len(capture.Events) != 1 {
		t.Fatalf("expected event to be captured once, got %d", len(capture.Events))
	}
}

func TestHooksNotifyRecoversPanicsAndIndexesErrors(t *testing.T) {
	capture := &CaptureHook{}
	hooks := Hooks{
		HookFunc(func(context.Context, Event) error { panic("sink exploded") }),
		capture,
	}
	err := hooks.Notify(context.Background(), Event{Verb: VerbStateDeleted, ObjectType: ObjectTypeState, ObjectID: "1"})

	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("expected HookError, got %v", err)
	}
	if hookErr.Index != 0 || hookErr.Verb != VerbStateDeleted || !strings.Contains(err.Error(), "sink exploded") {
		t.Fatalf("unexpected hook error %+v", hookErr)
	}
	if len(capture.Events) != 1 {
		t.Fatalf("expected remaining hooks to run, got %d events", len(capture.Events))
	}
}

func TestOnlyVerbs(t *testing.T) {
	capture := &CaptureHook{}
	hooks := Hooks{OnlyVerbs(capture, VerbStateDeleted)}
	for _, verb := range []string{VerbStateLoaded, VerbStateStored, VerbStateDeleted} {
		if err := hooks.Notify(context.Background(), Event{Verb: verb, ObjectType: ObjectTypeState, ObjectID: "1"}); err != nil {
			t.Fatalf("notify %s: %v", verb, err)
		}
	}
	if verbs := capture.Verbs(); len(verbs) != 1 || verbs[0] != VerbStateDeleted {
		t.Fatalf("expected only deletions, got %v", verbs)
	}
}

func TestHooksCloneDropsNil(t *testing.T) {
	hook := HookFunc(func(context.Context, Event) error { return nil })
	if got := (Hooks{nil, hook, nil}).Clone(); len(got) != 1 {
		t.Fatalf("expected one hook, got %d", len(got))
	}
	if got := (Hooks{nil}).Clone(); got != nil {
		t.Fatalf("expected nil clone, got %+v", got)
	}
	if (Hooks{nil}).Enabled() {
		t.Fatalf("expected hooks with only nil entries to be disabled")
	}
}

func TestEmitterDisabledAndEnabled(t *testing.T) {
	capture := &CaptureHook{}
	event := Event{Verb: VerbStateStored, ObjectType: ObjectTypeState, ObjectID: "1"}

	disabled := NewEmitter(Hooks{capture}, Config{Enabled: false})
	if disabled.Enabled() {
		t.Fatalf("expected emitter to be disabled")
	}
	if err := disabled.Emit(context.Background(), event); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(capture.Events) != 0 {
		t.Fatalf("expected no events captured when disabled")
	}

	enabled := NewEmitter(Hooks{capture}, Config{Enabled: true, ActorID: "adapter-1", TenantID: "tenant-1"})
	if !enabled.Enabled() {
		t.Fatalf("expected emitter to be enabled")
	}
	if err := enabled.Emit(context.Background(), event); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(capture.Events) != 1 {
		t.Fatalf("expected one event captured, got %d", len(capture.Events))
	}
	got := capture.Events[0]
	if got.Channel != DefaultChannel {
		t.Fatalf("expected default channel applied, got %q", got.Channel)
	}
	if got.ActorID != "adapter-1" || got.TenantID != "tenant-1" {
		t.Fatalf("expected actor and tenant defaults, got %+v", got)
	}
}

func TestEmitterPreservesExplicitFields(t *testing.T) {
	capture := &CaptureHook{}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true, Channel: "default", ActorID: "fallback"})
	occurred := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := emitter.Emit(context.Background(), Event{
		Verb:       VerbStateLoaded,
		ActorID:    "explicit",
		ObjectType: ObjectTypeState,
		ObjectID:   "1",
		Channel:    "custom",
		OccurredAt: occurred,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	got := capture.Events[0]
	if got.Channel != "custom" || got.ActorID != "explicit" {
		t.Fatalf("expected explicit fields preserved, got %+v", got)
	}
	if !got.OccurredAt.Equal(occurred) {
		t.Fatalf("expected occurred_at preserved, got %v", got.OccurredAt)
	}
}

func TestEmitterWithoutHooksIsDisabled(t *testing.T) {
	var emitter *Emitter
	if emitter.Enabled() {
		t.Fatalf("nil emitter must be disabled")
	}
	if NewEmitter(nil, Config{Enabled: true}).Enabled() {
		t.Fatalf("emitter without hooks must be disabled")
	}
}
