package activity

import (
	"strings"
	"time"
)

const (
	VerbStateLoaded  = "syncstate.loaded"
	VerbStateStored  = "syncstate.stored"
	VerbStateDeleted = "syncstate.deleted"

	ObjectTypeState = "syncstate"
)

// StateEventInput describes the common fields for sync state lifecycle
// events. Identifier is the canonical storage key of the state and becomes
// the event object id.
type StateEventInput struct {
	ActorID        string
	UserID         string
	TenantID       string
	Channel        string
	DefinitionCode string
	Recipients     []string
	Metadata       map[string]any

	Identifier  string
	AccountName string
	AccountType string
	Authority   string
	SnapshotID  string
	Format      string
	Keys        []string
	Entries     int
	OccurredAt  time.Time
}

// BuildStateLoadedEvent constructs the event emitted after a successful load.
func BuildStateLoadedEvent(input StateEventInput) Event {
	return buildStateEvent(VerbStateLoaded, input)
}

// BuildStateStoredEvent constructs the event emitted after a successful store.
// Keys lists the entries changed since the previous load or store.
func BuildStateStoredEvent(input StateEventInput) Event {
	return buildStateEvent(VerbStateStored, input)
}

// BuildStateDeletedEvent constructs the event emitted when persisted state is removed.
func BuildStateDeletedEvent(input StateEventInput) Event {
	return buildStateEvent(VerbStateDeleted, input)
}

func buildStateEvent(verb string, input StateEventInput) Event {
	metadata := cloneMap(input.Metadata)
	set := func(key string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}
	if input.AccountName != "" {
		set("account_name", input.AccountName)
	}
	if input.AccountType != "" {
		set("account_type", input.AccountType)
	}
	if input.Authority != "" {
		set("authority", input.Authority)
	}
	if input.SnapshotID != "" {
		set("snapshot_id", input.SnapshotID)
	}
	if input.Format != "" {
		set("format", input.Format)
	}
	if len(input.Keys) > 0 {
		set("keys", cloneStrings(input.Keys))
	}
	if verb != VerbStateDeleted {
		set("entries", input.Entries)
	}

	objectID := strings.TrimSpace(input.Identifier)
	if objectID == "" && input.AccountType != "" && input.AccountName != "" && input.Authority != "" {
		objectID = input.AccountType + "/" + input.AccountName + "/" + input.Authority
	}
	if objectID == "" {
		objectID = strings.TrimSpace(input.SnapshotID)
	}
	if objectID == "" {
		objectID = ObjectTypeState
	}

	return Event{
		Verb:           verb,
		ActorID:        strings.TrimSpace(input.ActorID),
		UserID:         strings.TrimSpace(input.UserID),
		TenantID:       strings.TrimSpace(input.TenantID),
		ObjectType:     ObjectTypeState,
		ObjectID:       objectID,
		Channel:        strings.TrimSpace(input.Channel),
		DefinitionCode: strings.TrimSpace(input.DefinitionCode),
		Recipients:     cloneStrings(input.Recipients),
		Metadata:       metadata,
		OccurredAt:     input.OccurredAt,
	}
}
