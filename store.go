package syncstate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`

	// IfAbsent makes Save create-only: it fails with ErrETagMismatch when a
	// record already exists. It is a request flag and never persisted.
	IfAbsent bool `json:"-"`
}

// Store loads, saves and deletes the persisted payload of a single Ref.
//
// Save treats meta.ETag as a precondition: when both meta.ETag and the
// persisted ETag are set they must match, otherwise Save fails with
// ErrETagMismatch. Successful saves return the metadata now persisted, with
// a fresh ETag. A meta with IfAbsent set only saves when nothing is persisted
// yet. PrepareSave implements these rules for backends.
type Store interface {
	Load(ctx context.Context, ref Ref) (data []byte, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, data []byte, meta Meta) (Meta, error)
	Delete(ctx context.Context, ref Ref) error
}

// Lister is implemented by stores that can enumerate the refs they hold.
type Lister interface {
	List(ctx context.Context) ([]Ref, error)
}

// PrepareSave checks requested against the currently persisted metadata and
// returns the metadata to write. SnapshotID is kept when the caller supplies
// one, ETag is always regenerated and UpdatedAt defaults to now.
func PrepareSave(current Meta, exists bool, requested Meta) (Meta, error) {
	if exists && requested.IfAbsent {
		return Meta{}, fmt.Errorf("%w: state created concurrently", ErrETagMismatch)
	}
	if exists && requested.ETag != "" && current.ETag != "" && requested.ETag != current.ETag {
		return Meta{}, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, requested.ETag, current.ETag)
	}
	next := Meta{
		SnapshotID: requested.SnapshotID,
		ETag:       uuid.NewString(),
		UpdatedAt:  requested.UpdatedAt,
		Extra:      cloneExtra(requested.Extra),
	}
	if next.SnapshotID == "" {
		next.SnapshotID = uuid.NewString()
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	return next, nil
}

func cloneMeta(meta Meta) Meta {
	out := meta
	out.Extra = cloneExtra(meta.Extra)
	return out
}

func cloneExtra(extra map[string]string) map[string]string {
	if extra == nil {
		return nil
	}
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
