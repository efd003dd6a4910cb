package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-syncstate"
	"github.com/goliatone/go-syncstate/schema/openapi"
)

type handlers struct {
	store    syncstate.Store
	context  *syncstate.ResolutionContext
	manager  *syncstate.Manager
	policies map[string]*syncstate.Policy
	logger   *slog.Logger
}

type stateResponse struct {
	Account   syncstate.Account `json:"account"`
	Authority string            `json:"authority"`
	Meta      metaResponse      `json:"meta"`
	Entries   map[string]any    `json:"entries"`
}

type metaResponse struct {
	SnapshotID string            `json:"snapshot_id"`
	ETag       string            `json:"etag"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Extra      map[string]string `json:"extra,omitempty"`
}

type refResponse struct {
	Account   syncstate.Account `json:"account"`
	Authority string            `json:"authority"`
}

type policyResponse struct {
	Policy string `json:"policy"`
	Expr   string `json:"expr"`
	Result bool   `json:"result"`
}

func (h *handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) OpenAPI(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(h.policies))
	for name := range h.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	document, err := openapi.Document(h.context.Registry(), openapi.WithPolicies(names...))
	if err != nil {
		h.internalError(w, "openapi document", err)
		return
	}
	writeJSON(w, http.StatusOK, document)
}

func (h *handlers) Keys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"format": h.context.Format().Name(),
		"keys":   h.context.Registry().Describe(),
	})
}

func (h *handlers) ListStates(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.store.(syncstate.Lister)
	if !ok {
		writeError(w, http.StatusNotImplemented, "not_supported", "store cannot list states")
		return
	}
	refs, err := lister.List(r.Context())
	if err != nil {
		h.internalError(w, "list states", err)
		return
	}
	out := make([]refResponse, 0, len(refs))
	for _, ref := range refs {
		out = append(out, refResponse{Account: ref.Account, Authority: ref.Authority})
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": out})
}

func (h *handlers) GetState(w http.ResponseWriter, r *http.Request) {
	state, ok := h.loadState(w, r)
	if !ok {
		return
	}
	defer state.Close()

	meta := state.Meta()
	ref := state.Ref()
	writeJSON(w, http.StatusOK, stateResponse{
		Account:   ref.Account,
		Authority: ref.Authority,
		Meta: metaResponse{
			SnapshotID: meta.SnapshotID,
			ETag:       meta.ETag,
			UpdatedAt:  meta.UpdatedAt,
			Extra:      meta.Extra,
		},
		Entries: state.Snapshot(),
	})
}

func (h *handlers) DeleteState(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.manager.Remove(r.Context(), ref); err != nil {
		h.internalError(w, "delete state", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) CheckPolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "policy")
	policy, ok := h.policies[name]
	if !ok {
		writeError(w, http.StatusNotFound, "policy_not_found", "unknown policy "+name)
		return
	}
	state, ok := h.loadState(w, r)
	if !ok {
		return
	}
	defer state.Close()

	result, err := policy.Check(state)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "policy_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{Policy: policy.Name(), Expr: policy.Expr(), Result: result})
}

func (h *handlers) loadState(w http.ResponseWriter, r *http.Request) (*syncstate.State, bool) {
	ref, ok := refFromRequest(w, r)
	if !ok {
		return nil, false
	}
	state, err := syncstate.New(ref, h.store, syncstate.WithContext(h.context))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ref", err.Error())
		return nil, false
	}
	if err := state.Load(r.Context()); err != nil {
		switch {
		case errors.Is(err, syncstate.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "no sync state for "+ref.String())
		case errors.Is(err, syncstate.ErrCorrupt):
			h.logger.Warn("httpapi: corrupt state", "ref", ref.String(), "err", err)
			writeError(w, http.StatusUnprocessableEntity, "corrupt_state", err.Error())
		default:
			h.internalError(w, "load state", err)
		}
		return nil, false
	}
	return state, true
}

func (h *handlers) internalError(w http.ResponseWriter, action string, err error) {
	h.logger.Error("httpapi: "+action, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// refFromRequest reads the ref from the route. chi matches against RawPath
// only when the request carries one, so params are unescaped in that case
// alone.
func refFromRequest(w http.ResponseWriter, r *http.Request) (syncstate.Ref, bool) {
	raw := r.URL.RawPath != ""
	parts := make([]string, 0, 3)
	for _, key := range []string{"accountName", "accountType", "authority"} {
		value := chi.URLParam(r, key)
		if raw {
			unescaped, err := url.PathUnescape(value)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_ref", "invalid "+key)
				return syncstate.Ref{}, false
			}
			value = unescaped
		}
		parts = append(parts, value)
	}
	ref := syncstate.NewRef(parts[0], parts[1], parts[2])
	if err := ref.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ref", err.Error())
		return syncstate.Ref{}, false
	}
	return ref, true
}
