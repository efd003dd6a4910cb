// Package httpapi exposes sync states over HTTP for inspection and cleanup.
package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-syncstate"
)

const statePath = "/accounts/{accountType}/{accountName}/authorities/{authority}"

// Config wires the router. Store is required; Context defaults to
// syncstate.DefaultContext and Manager to a manager over Store.
type Config struct {
	Store    syncstate.Store
	Context  *syncstate.ResolutionContext
	Manager  *syncstate.Manager
	Policies []*syncstate.Policy
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter returns the chi router serving:
//
//	GET    /health
//	GET    /openapi.json
//	GET    /keys
//	GET    /states
//	GET    /accounts/{accountType}/{accountName}/authorities/{authority}
//	DELETE /accounts/{accountType}/{accountName}/authorities/{authority}
//	GET    /accounts/{accountType}/{accountName}/authorities/{authority}/policies/{policy}
func NewRouter(cfg Config) (http.Handler, error) {
	h, err := newHandlers(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))

	r.Get("/health", h.Health)
	r.Get("/openapi.json", h.OpenAPI)
	r.Get("/keys", h.Keys)
	r.Get("/states", h.ListStates)
	r.Route(statePath, func(r chi.Router) {
		r.Get("/", h.GetState)
		r.Delete("/", h.DeleteState)
		r.Get("/policies/{policy}", h.CheckPolicy)
	})
	return r, nil
}

func newHandlers(cfg Config) (*handlers, error) {
	if cfg.Store == nil {
		return nil, errors.New("httpapi: store is required")
	}
	rc := cfg.Context
	if rc == nil {
		rc = syncstate.DefaultContext()
	}
	manager := cfg.Manager
	if manager == nil {
		var err error
		manager, err = syncstate.NewManager(cfg.Store)
		if err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	policies := make(map[string]*syncstate.Policy, len(cfg.Policies))
	for _, policy := range cfg.Policies {
		if policy != nil {
			policies[policy.Name()] = policy
		}
	}
	return &handlers{
		store:    cfg.Store,
		context:  rc,
		manager:  manager,
		policies: policies,
		logger:   logger,
	}, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http.request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
