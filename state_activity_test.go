package syncstate

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-syncstate/pkg/activity"
)

func TestStateEmitsActivity(t *testing.T) {
	capture := &activity.CaptureHook{}
	store := NewMemoryStore()
	state := newTestState(t, store,
		WithActivityHooks(activity.Hooks{capture, nil}),
		WithActivityActor("caldav-adapter", "acme"),
	)

	Set(state, syncTokenKey, "abc")
	Set(state, pageKey, 1)
	if err := state.Store(context.Background()); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := state.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if diff := cmpJSON([]string{activity.VerbStateStored, activity.VerbStateLoaded}, capture.Verbs()); diff != "" {
		t.Fatalf("verbs mismatch: %s", diff)
	}
	stored := capture.Events[0]
	if stored.ObjectType != activity.ObjectTypeState || stored.ObjectID != "com.example.caldav/alice@example.com/com.example.calendar" {
		t.Fatalf("unexpected object %s/%s", stored.ObjectType, stored.ObjectID)
	}
	if stored.ActorID != "caldav-adapter" || stored.TenantID != "acme" || stored.Channel != activity.DefaultChannel {
		t.Fatalf("expected emitter defaults, got %+v", stored)
	}
	if !stored.OccurredAt.Equal(testTime) {
		t.Fatalf("expected state clock timestamp, got %s", stored.OccurredAt)
	}
	if diff := cmpJSON([]string{"page", "sync_token"}, stored.Metadata["keys"]); diff != "" {
		t.Fatalf("keys mismatch: %s", diff)
	}
	if stored.Metadata["snapshot_id"] != state.Meta().SnapshotID || stored.Metadata["format"] != "json" {
		t.Fatalf("unexpected metadata %v", stored.Metadata)
	}
	if _, ok := capture.Events[1].Metadata["keys"]; ok {
		t.Fatalf("loaded event should not list changed keys")
	}
	if len(state.ActivityHooks()) != 1 {
		t.Fatalf("expected nil hooks to be dropped")
	}
}

func TestActivityHookFailureDoesNotFailStore(t *testing.T) {
	var logged []OperationLogEvent
	hookErr := errors.New("sink down")
	state := newTestState(t, NewMemoryStore(),
		WithActivityHooks(activity.Hooks{&activity.CaptureHook{Err: hookErr}}),
		WithLogger(LoggerFunc(func(event OperationLogEvent) { logged = append(logged, event) })),
	)
	Set(state, pageKey, 1)

	if err := state.Store(context.Background()); err != nil {
		t.Fatalf("expected store to succeed despite hook failure, got %v", err)
	}
	var found bool
	for _, event := range logged {
		if event.Op == OpActivity && errors.Is(event.Err, hookErr) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hook failure to be logged, got %+v", logged)
	}
}

func TestActivityConfigCanDisableEmission(t *testing.T) {
	capture := &activity.CaptureHook{}
	state := newTestState(t, NewMemoryStore(),
		WithActivityHooks(activity.Hooks{capture}),
		WithActivityConfig(activity.Config{Enabled: false}),
	)
	Set(state, pageKey, 1)
	if err := state.Store(context.Background()); err != nil {
		t.Fatalf("store: %v", err)
	}
	if len(capture.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(capture.Events))
	}
}

func TestFailedOperationsDoNotEmit(t *testing.T) {
	capture := &activity.CaptureHook{}
	state := newTestState(t, NewMemoryStore(), WithActivityHooks(activity.Hooks{capture}))
	if err := state.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(capture.Events) != 0 {
		t.Fatalf("expected failed load to stay silent, got %v", capture.Verbs())
	}
}
