package activity

import (
	"context"
	"testing"
)

func TestBuildStateStoredEventIncludesStateMetadata(t *testing.T) {
	meta := map[string]any{"custom": "value"}
	keys := []string{"sync_token", "last_full_sync"}
	input := StateEventInput{
		ActorID:     " adapter ",
		TenantID:    " tenant ",
		Metadata:    meta,
		Identifier:  "com.example/alice/calendar",
		AccountName: "alice",
		AccountType: "com.example",
		Authority:   "calendar",
		SnapshotID:  "snap-1",
		Format:      "json",
		Keys:        keys,
		Entries:     3,
		Recipients:  []string{"ops@example.com"},
	}

	event := BuildStateStoredEvent(input)

	if event.Verb != VerbStateStored {
		t.Fatalf("expected verb %s got %s", VerbStateStored, event.Verb)
	}
	if event.ObjectType != ObjectTypeState || event.ObjectID != "com.example/alice/calendar" {
		t.Fatalf("unexpected object fields: %+v", event)
	}
	if event.ActorID != "adapter" || event.TenantID != "tenant" {
		t.Fatalf("unexpected identity fields: %+v", event)
	}
	for key, want := range map[string]any{
		"custom":       "value",
		"account_name": "alice",
		"account_type": "com.example",
		"authority":    "calendar",
		"snapshot_id":  "snap-1",
		"format":       "json",
		"entries":      3,
	} {
		if event.Metadata[key] != want {
			t.Fatalf("metadata %q: expected %v, got %v", key, want, event.Metadata[key])
		}
	}
	gotKeys, ok := event.Metadata["keys"].([]string)
	if !ok || len(gotKeys) != 2 {
		t.Fatalf("expected keys metadata, got %v", event.Metadata["keys"])
	}
	gotKeys[0] = "changed"
	if keys[0] != "sync_token" {
		t.Fatalf("expected input keys untouched")
	}
	event.Recipients[0] = "changed"
	if input.Recipients[0] != "ops@example.com" {
		t.Fatalf("expected input recipients untouched")
	}
	if _, ok := meta["account_name"]; ok {
		t.Fatalf("expected input metadata untouched")
	}
}

func TestBuildStateDeletedEventFallsBackToRefParts(t *testing.T) {
	event := BuildStateDeletedEvent(StateEventInput{AccountName: "bob", AccountType: "com.example", Authority: "contacts"})
	if event.ObjectID != "com.example/bob/contacts" {
		t.Fatalf("expected object id from ref parts, got %q", event.ObjectID)
	}
	if _, ok := event.Metadata["entries"]; ok {
		t.Fatalf("deleted events carry no entry count: %+v", event.Metadata)
	}
}

func TestBuildStateLoadedEventFallbacks(t *testing.T) {
	if event := BuildStateLoadedEvent(StateEventInput{SnapshotID: "snap-42"}); event.ObjectID != "snap-42" {
		t.Fatalf("expected snapshot id fallback, got %q", event.ObjectID)
	}
	if event := BuildStateLoadedEvent(StateEventInput{}); event.ObjectID != ObjectTypeState {
		t.Fatalf("expected object type fallback, got %q", event.ObjectID)
	}
}

func TestBuildStateEventsWorkWithHooks(t *testing.T) {
	capture := &CaptureHook{}
	hooks := Hooks{capture}

	event := BuildStateLoadedEvent(StateEventInput{Identifier: "com.example/alice/calendar", Entries: 2})
	if err := hooks.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if verbs := capture.Verbs(); len(verbs) != 1 || verbs[0] != VerbStateLoaded {
		t.Fatalf("expected one loaded event, got %v", verbs)
	}
}
