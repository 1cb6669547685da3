package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// publicPaths are endpoints served without a bearer token.
var publicPaths = map[string]bool{
	"/health":                  true,
	"/api/v1/auth/signup":      true,
	"/api/v1/auth/login":       true,
	"/api/v1/auth/refresh":     true,
	"/api/v1/auth/session":     true,
	"/api/v1/auth/logout":      true,
	"/api/v1/billing/webhooks": true,
	"/api/v1/billing/plans":    true,
}

// IsPublicPath reports whether the path is served unauthenticated.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// Middleware validates the Authorization header and attaches the
// identity to the request context. Expired tokens are 403; everything
// else invalid is 401. A nil manager rejects all non-public requests.
func Middleware(manager *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeDetail(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}
			scheme, bearer, ok := strings.Cut(header, " ")
			if !ok || scheme != "Bearer" {
				writeDetail(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
				return
			}
			if manager == nil {
				writeDetail(w, http.StatusUnauthorized, "Authentication not configured")
				return
			}

			identity, err := manager.Validate(r.Context(), bearer)
			if err != nil {
				switch {
				case err == ErrExpiredToken || strings.Contains(err.Error(), "expired"):
					writeDetail(w, http.StatusForbidden, "Token expired")
				case err == ErrRevokedToken:
					writeDetail(w, http.StatusForbidden, "Token revoked")
				default:
					writeDetail(w, http.StatusUnauthorized, "Invalid token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequirePermission guards a handler with one permission. Service
// accounts pass only with a matching scope.
func RequirePermission(perm Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := IdentityFrom(r.Context())
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !id.Can(perm) {
			writeDetail(w, http.StatusForbidden, "Permission denied")
			return
		}
		next(w, r)
	}
}

// RequireRole guards a handler with a minimum set of roles. Service
// accounts are always rejected by role guards, whatever scopes they
// hold.
func RequireRole(next http.HandlerFunc, roles ...contracts.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := IdentityFrom(r.Context())
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if id.Kind == KindService {
			writeDetail(w, http.StatusForbidden, "Service accounts cannot use role-gated endpoints")
			return
		}
		for _, role := range roles {
			if id.Role == role {
				next(w, r)
				return
			}
		}
		writeDetail(w, http.StatusForbidden, "Role not permitted")
	}
}

// writeDetail emits the {"detail": ...} error envelope. Duplicated
// minimally here to keep auth free of a dependency on the api package.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
