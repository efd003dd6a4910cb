// Package usersink forwards sync state activity to a go-users ActivitySink.
package usersink

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-syncstate/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// DefaultNamespace derives stable ids for actors, users and tenants that are
// not UUIDs, such as "caldav-adapter".
var DefaultNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/goliatone/go-syncstate"))

// Hook adapts activity events to a go-users ActivitySink.
type Hook struct {
	Sink usertypes.ActivitySink
	// Namespace overrides DefaultNamespace.
	Namespace uuid.UUID
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
// Identities that are not UUIDs are mapped to name-based UUIDs and kept
// verbatim in the record data under actor, user and tenant.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}

	normalized := activity.NormalizeEvent(event)
	if !normalized.Valid() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	data := cloneMap(normalized.Metadata)
	set := func(key string, value any) {
		if data == nil {
			data = map[string]any{}
		}
		data[key] = value
	}

	record := usertypes.ActivityRecord{
		ActorID:    h.identity(normalized.ActorID, "actor", set),
		UserID:     h.identity(normalized.UserID, "user", set),
		TenantID:   h.identity(normalized.TenantID, "tenant", set),
		Verb:       normalized.Verb,
		ObjectType: normalized.ObjectType,
		ObjectID:   normalized.ObjectID,
		Channel:    normalized.Channel,
		OccurredAt: normalized.OccurredAt,
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}
	if normalized.DefinitionCode != "" {
		set("definition_code", normalized.DefinitionCode)
	}
	if len(normalized.Recipients) > 0 {
		set("recipients", append([]string{}, normalized.Recipients...))
	}
	record.Data = data

	return h.Sink.Log(ctx, record)
}

func (h Hook) identity(input, key string, set func(string, any)) uuid.UUID {
	value := strings.TrimSpace(input)
	if value == "" {
		return uuid.Nil
	}
	if id, err := uuid.Parse(value); err == nil {
		return id
	}
	set(key, value)
	namespace := h.Namespace
	if namespace == uuid.Nil {
		namespace = DefaultNamespace
	}
	return uuid.NewSHA1(namespace, []byte(value))
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
