package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"promanage.org/internal/authn"
	"promanage.org/internal/authz"
	"promanage.org/internal/obs"
	"promanage.org/internal/stream"
	"promanage.org/internal/token"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config collects the engine services the HTTP layer fronts.
type Config struct {
	ReadyProbe  ReadyProbe
	Version     string
	Authn       *authn.Service
	Tokens      *token.Service
	Revocations token.RevocationStore
	Permissions *authz.PermissionService
	Roles       *authz.RoleService
	Resolver    *authz.Resolver
	Stream      *stream.Stream
}

// API — HTTP слой.
type API struct {
	mux         *http.ServeMux
	readyProbe  ReadyProbe
	version     string
	authn       *authn.Service
	tokens      *token.Service
	revocations token.RevocationStore
	perms       *authz.PermissionService
	roles       *authz.RoleService
	resolver    *authz.Resolver
	stream      *stream.Stream
}

func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  cfg.ReadyProbe,
		version:     cfg.Version,
		authn:       cfg.Authn,
		tokens:      cfg.Tokens,
		revocations: cfg.Revocations,
		perms:       cfg.Permissions,
		roles:       cfg.Roles,
		resolver:    cfg.Resolver,
		stream:      cfg.Stream,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth flows
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/me", a.handleMe)
	a.mux.HandleFunc("/auth/permissions", a.handleMyPermissions)
	a.mux.HandleFunc("/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/auth/reset-password", a.handleResetPassword)

	// tenant-scoped permission management
	a.mux.HandleFunc("/organizations/", a.handleOrganizationScoped)

	// change-event stream
	a.mux.HandleFunc("/events", a.Stream)

	// корень — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, 50, 25)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "promanage-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "promanage-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
