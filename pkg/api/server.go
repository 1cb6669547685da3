package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/plans"
	"github.com/ironlayer/ironlayer/pkg/quota"
	"github.com/ironlayer/ironlayer/pkg/repository"
)

// Reconciler triggers a reconciliation pass for one tenant.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID string) (int, error)
}

// LicenseGate authorizes plan runs against the installed license.
// Implemented over pkg/license in the server bootstrap; a nil gate
// means no license enforcement (community installations).
type LicenseGate interface {
	AuthorizePlanRun(ctx context.Context, tenantID string) error
}

// Server carries the shared dependencies of all handlers. Per-tenant
// repositories are constructed per request from the authenticated
// identity; nothing here holds tenant state.
type Server struct {
	db      *sql.DB
	dialect repository.Dialect

	access  *auth.Manager // short-lived bearer tokens
	refresh *auth.Manager // refresh tokens, longer TTL
	logins  *auth.LoginLimiter

	quota      *quota.Service
	license    LicenseGate
	executor   plans.Submitter
	meter      plans.Meter
	policy     *plans.AutoApprovePolicy
	reconciler Reconciler
	advisory   *AdvisoryClient
	webhook    *WebhookHandler
	idem       IdempotencyStore

	minClientVersion *semver.Version
	refreshTTL       time.Duration
	secureCookies    bool
	logger           *slog.Logger
	now              func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLicenseGate installs license enforcement on plan apply.
func WithLicenseGate(g LicenseGate) ServerOption {
	return func(s *Server) { s.license = g }
}

// WithReconciler enables the reconciliation trigger endpoint.
func WithReconciler(r Reconciler) ServerOption {
	return func(s *Server) { s.reconciler = r }
}

// WithAdvisory enables the AI advisory augment endpoint.
func WithAdvisory(c *AdvisoryClient) ServerOption {
	return func(s *Server) { s.advisory = c }
}

// WithWebhook installs the billing webhook handler.
func WithWebhook(h *WebhookHandler) ServerOption {
	return func(s *Server) { s.webhook = h }
}

// WithAutoApprovePolicy sets the plan auto-approval policy.
func WithAutoApprovePolicy(p *plans.AutoApprovePolicy) ServerOption {
	return func(s *Server) { s.policy = p }
}

// WithIdempotencyStore replaces the default in-memory idempotency store.
func WithIdempotencyStore(store IdempotencyStore) ServerOption {
	return func(s *Server) { s.idem = store }
}

// WithMinClientVersion rejects requests from clients older than v.
func WithMinClientVersion(v *semver.Version) ServerOption {
	return func(s *Server) { s.minClientVersion = v }
}

// WithRefreshTTL sets the refresh cookie lifetime.
func WithRefreshTTL(ttl time.Duration) ServerOption {
	return func(s *Server) { s.refreshTTL = ttl }
}

// WithInsecureCookies drops the Secure cookie attribute for local
// development over plain HTTP.
func WithInsecureCookies() ServerOption {
	return func(s *Server) { s.secureCookies = false }
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithServerClock overrides the time source.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer assembles the HTTP surface.
func NewServer(db *sql.DB, dialect repository.Dialect, access, refresh *auth.Manager,
	logins *auth.LoginLimiter, q *quota.Service, exec plans.Submitter, meter plans.Meter,
	opts ...ServerOption) *Server {
	s := &Server{
		db:            db,
		dialect:       dialect,
		access:        access,
		refresh:       refresh,
		logins:        logins,
		quota:         q,
		executor:      exec,
		meter:         meter,
		idem:          NewMemoryIdempotencyStore(24 * time.Hour),
		refreshTTL:    24 * time.Hour,
		secureCookies: true,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// repos builds the tenant-bound repository set for an authenticated
// request.
func (s *Server) repos(tenantID string) (*repository.Repositories, error) {
	return repository.New(s.db, s.dialect, tenantID)
}

// planService assembles the plan lifecycle service over a tenant's
// repositories. Cheap to build per request; all state is in the store.
func (s *Server) planService(repos *repository.Repositories) *plans.Service {
	var opts []plans.Option
	if s.policy != nil {
		opts = append(opts, plans.WithAutoApprovePolicy(s.policy))
	}
	opts = append(opts, plans.WithClock(s.now), plans.WithLogger(s.logger))
	return plans.NewService(repos.Plans, s.quota, s.licenseGate(), s.executor, s.meter, opts...)
}

func (s *Server) licenseGate() plans.LicenseGate {
	if s.license != nil {
		return s.license
	}
	return noLicense{}
}

// noLicense permits everything; used when no license key is installed.
type noLicense struct{}

func (noLicense) AuthorizePlanRun(context.Context, string) error { return nil }

// identity pulls the authenticated identity, writing a 401 on failure.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, err := auth.IdentityFrom(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return nil, false
	}
	return id, true
}

// actor resolves the acting user row for approval and apply records.
// Service accounts act under a synthetic user carrying the token scopes.
func (s *Server) actor(ctx context.Context, repos *repository.Repositories, id *auth.Identity) (contracts.User, error) {
	if id.Kind == auth.KindService {
		return contracts.User{
			TenantID: id.TenantID,
			UserID:   id.UserID,
			Role:     contracts.RoleService,
		}, nil
	}
	u, err := repos.Users.Get(ctx, id.UserID)
	if err != nil {
		return contracts.User{}, err
	}
	return *u, nil
}

// tenantTier reads the tenant's billing tier for feature gates.
func (s *Server) tenantTier(ctx context.Context, repos *repository.Repositories, tenantID string) (contracts.PlanTier, error) {
	return repos.Tenants.TenantTier(ctx, tenantID)
}

// Handler returns the fully assembled handler: request IDs, CORS,
// per-IP rate limiting, client version gate, bearer auth, then routes.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Routes()
	h = auth.Middleware(s.access)(h)
	h = VersionGate(s.minClientVersion)(h)
	h = NewIPRateLimiter(20, 40).Middleware(h)
	h = auth.CORSMiddleware(nil)(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

// Routes registers every endpoint. Paths match the middleware's public
// path list; everything else requires a bearer token.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/auth/session", s.handleSession)
	mux.HandleFunc("POST /api/v1/auth/logout", s.handleLogout)

	mux.HandleFunc("POST /api/v1/plans",
		auth.RequirePermission(auth.PermCreatePlans, s.handleCreatePlan))
	mux.HandleFunc("GET /api/v1/plans/{id}",
		auth.RequirePermission(auth.PermReadPlans, s.handleGetPlan))
	mux.HandleFunc("POST /api/v1/plans/{id}/approve",
		auth.RequirePermission(auth.PermApplyPlans, s.handleApprovePlan))
	mux.HandleFunc("POST /api/v1/plans/{id}/augment",
		auth.RequirePermission(auth.PermUseAI, s.handleAugmentPlan))
	mux.HandleFunc("POST /api/v1/plans/{id}/apply",
		auth.RequirePermission(auth.PermApplyPlans,
			IdempotencyMiddleware(s.idem, s.handleApplyPlan)))

	mux.HandleFunc("GET /api/v1/models",
		auth.RequirePermission(auth.PermReadModels, s.handleListModels))
	mux.HandleFunc("GET /api/v1/models/{name}/lineage",
		auth.RequirePermission(auth.PermReadModels, s.handleModelLineage))
	mux.HandleFunc("GET /api/v1/models/{name}/column-lineage",
		auth.RequirePermission(auth.PermReadModels, s.handleColumnLineage))

	mux.HandleFunc("GET /api/v1/billing/plans", s.handleBillingPlans)
	if s.webhook != nil {
		mux.HandleFunc("POST /api/v1/billing/webhooks", s.webhook.ServeHTTP)
	}

	mux.HandleFunc("GET /api/v1/audit",
		auth.RequirePermission(auth.PermManageUsers, s.handleAudit))
	mux.HandleFunc("POST /api/v1/reconciliation/trigger",
		auth.RequirePermission(auth.PermApplyPlans, s.handleReconcile))

	if s.advisory != nil {
		mux.HandleFunc("POST /api/v1/ai/test-key",
			auth.RequirePermission(auth.PermUseAI, s.handleTestAIKey))
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userByEmail is the login lookup, which runs before any tenant is
// known.
func (s *Server) userByEmail(ctx context.Context, email string) (*contracts.User, error) {
	return repository.UserByEmail(ctx, s.db, s.dialect, email)
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}

// audit records an entry best-effort; audit failures never fail the
// request they describe.
func (s *Server) audit(ctx context.Context, repos *repository.Repositories, actorID, action, resource, detail string) {
	entry := &contracts.AuditEntry{
		EntryID:   uuid.NewString(),
		ActorID:   actorID,
		Action:    action,
		Resource:  resource,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	if err := repos.Audit.Append(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", "action", action, "error", err)
	}
}
