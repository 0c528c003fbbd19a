// Package httpapi exposes the trust engine over HTTP/JSON.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"tisp.org/internal/auth"
	"tisp.org/internal/notify"
	"tisp.org/internal/obs"
	"tisp.org/internal/trust"
)

const serviceName = "trustd"

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadyProbe.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error { return f(ctx) }

// Options collects the API's collaborators. Trust and Groups are required.
type Options struct {
	Trust          *trust.Service
	Groups         *trust.GroupService
	Issuer         *auth.Issuer
	Broker         *notify.Broker
	Ready          ReadyProbe
	Logger         *zap.Logger
	Version        string
	AllowedOrigins []string
	// DevTokens enables POST /v1/auth/token, which mints tokens without credentials.
	DevTokens bool
}

// API is the HTTP layer.
type API struct {
	router    chi.Router
	trust     *trust.Service
	groups    *trust.GroupService
	issuer    *auth.Issuer
	broker    *notify.Broker
	ready     ReadyProbe
	logger    *zap.Logger
	version   string
	devTokens bool
}

func New(opts Options) *API {
	a := &API{
		trust:     opts.Trust,
		groups:    opts.Groups,
		issuer:    opts.Issuer,
		broker:    opts.Broker,
		ready:     opts.Ready,
		logger:    opts.Logger,
		version:   opts.Version,
		devTokens: opts.DevTokens,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging(a.logger))
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
	r.Use(a.withAuth)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)
		r.Post("/auth/token", a.handleAuthToken)
		r.Get("/events", a.Stream)
		r.Get("/audit", a.auditTrail)

		r.Route("/relationships", func(r chi.Router) {
			r.Post("/", a.createRelationship)
			r.Get("/", a.listRelationships)
			r.Get("/{id}", a.getRelationship)
			r.Post("/{id}/approve", a.approveRelationship)
			r.Post("/{id}/revoke", a.revokeRelationship)
			r.Post("/{id}/suspend", a.suspendRelationship)
			r.Post("/{id}/reactivate", a.reactivateRelationship)
			r.Put("/{id}/trust-level", a.updateTrustLevel)
		})

		r.Route("/trust", func(r chi.Router) {
			r.Get("/check", a.checkTrust)
			r.Get("/access", a.canAccess)
			r.Get("/sharing", a.sharingPartners)
		})

		r.Route("/levels", func(r chi.Router) {
			r.Get("/", a.listLevels)
			r.Post("/", a.createLevel)
			r.Post("/{id}/deactivate", a.deactivateLevel)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", a.createGroup)
			r.Get("/", a.listGroups)
			r.Get("/{id}", a.getGroup)
			r.Get("/{id}/members", a.listMembers)
			r.Post("/{id}/join", a.joinGroup)
			r.Post("/{id}/leave", a.leaveGroup)
			r.Post("/{id}/promote", a.promoteMember)
			r.Post("/{id}/deactivate", a.deactivateGroup)
			r.Post("/{id}/members/{org}/approve", a.approveMember)
			r.Post("/{id}/members/{org}/reject", a.rejectMember)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	a.router = r
	return a
}

// Handler returns the root handler wrapped with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(MaxBodyBytes(a.router, 1<<20))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
