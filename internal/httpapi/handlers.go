// Package httpapi exposes the collaboration engine over HTTP and a gRPC
// health endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"postdesk.io/internal/auth"
	"postdesk.io/internal/collab"
	"postdesk.io/internal/notify"
	"postdesk.io/internal/obs"
)

const serviceName = "postdesk-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is satisfied by stores backed by a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness by pinging the store when it can be pinged.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Options configures the API. Zero values keep the defaults.
type Options struct {
	Version        string
	Ready          readinessChecker
	Hub            *notify.Hub
	Logger         *zap.Logger
	RateBurst      int
	RatePerSec     float64
	MaxBodyBytes   int64
	AllowedOrigins []string
	// DevTokens enables POST /v1/auth/token for local development.
	DevTokens bool
}

// API is the HTTP layer.
type API struct {
	router   *mux.Router
	svc      *collab.Service
	signer   *auth.Signer
	hub      *notify.Hub
	logger   *zap.Logger
	ready    readinessChecker
	version  string
	devToken bool

	rateBurst    int
	ratePerSec   float64
	maxBodyBytes int64
	origins      []string
}

func New(svc *collab.Service, signer *auth.Signer, opts Options) *API {
	a := &API{
		router:       mux.NewRouter(),
		svc:          svc,
		signer:       signer,
		hub:          opts.Hub,
		logger:       opts.Logger,
		ready:        opts.Ready,
		version:      opts.Version,
		devToken:     opts.DevTokens,
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSec,
		maxBodyBytes: opts.MaxBodyBytes,
		origins:      opts.AllowedOrigins,
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	a.routes()
	return a
}

func (a *API) routes() {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r := a.router
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notAllowed

	// health/ready/info
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/auth/token", a.handleAuthToken).Methods(http.MethodPost)

	// Subrouters keep their own fallbacks; without these a wrong method on a
	// /v1 resource would surface as the root 404.
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.NotFoundHandler = notFound
	v1.MethodNotAllowedHandler = notAllowed

	v1.HandleFunc("/teams", a.createTeam).Methods(http.MethodPost)
	v1.HandleFunc("/teams", a.listTeams).Methods(http.MethodGet)
	v1.HandleFunc("/teams/{teamID}", a.getTeam).Methods(http.MethodGet)
	v1.HandleFunc("/teams/{teamID}", a.updateTeam).Methods(http.MethodPatch)
	v1.HandleFunc("/teams/{teamID}", a.deleteTeam).Methods(http.MethodDelete)
	v1.HandleFunc("/teams/{teamID}/members", a.listMembers).Methods(http.MethodGet)
	v1.HandleFunc("/teams/{teamID}/members/{userID}", a.updateMemberRole).Methods(http.MethodPatch)
	v1.HandleFunc("/teams/{teamID}/members/{userID}", a.removeMember).Methods(http.MethodDelete)
	v1.HandleFunc("/teams/{teamID}/ownership", a.transferOwnership).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{teamID}/activity", a.listActivity).Methods(http.MethodGet)

	v1.HandleFunc("/teams/{teamID}/invitations", a.inviteMember).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{teamID}/invitations", a.listInvitations).Methods(http.MethodGet)
	v1.HandleFunc("/invitations/{invitationID}", a.getInvitation).Methods(http.MethodGet)
	v1.HandleFunc("/invitations/{invitationID}/accept", a.acceptInvitation).Methods(http.MethodPost)
	v1.HandleFunc("/invitations/{invitationID}/revoke", a.revokeInvitation).Methods(http.MethodPost)

	v1.HandleFunc("/teams/{teamID}/assignments", a.createAssignment).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{teamID}/assignments", a.listAssignments).Methods(http.MethodGet)
	v1.HandleFunc("/assignments/{assignmentID}", a.getAssignment).Methods(http.MethodGet)
	v1.HandleFunc("/assignments/{assignmentID}", a.updateAssignmentStatus).Methods(http.MethodPatch)

	v1.HandleFunc("/teams/{teamID}/approvals", a.requestApproval).Methods(http.MethodPost)
	v1.HandleFunc("/teams/{teamID}/approvals", a.listApprovals).Methods(http.MethodGet)
	v1.HandleFunc("/approvals/{approvalID}", a.getApproval).Methods(http.MethodGet)
	v1.HandleFunc("/approvals/{approvalID}/decision", a.decideApproval).Methods(http.MethodPost)

	v1.HandleFunc("/notifications/stream", a.Stream).Methods(http.MethodGet)
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
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

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
