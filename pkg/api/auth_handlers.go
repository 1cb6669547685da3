package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// refreshCookieName holds the rotated refresh token. The cookie is
// scoped to the auth endpoints only and never readable by scripts.
const refreshCookieName = "ironlayer_refresh"

const refreshCookiePath = "/api/v1/auth"

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	User        sessionUser `json:"user"`
}

type sessionUser struct {
	UserID   string         `json:"user_id"`
	TenantID string         `json:"tenant_id"`
	Email    string         `json:"email,omitempty"`
	Role     contracts.Role `json:"role"`
}

// handleSignup creates a user together with a fresh tenant. The first
// (and here only) user of the new tenant is its ADMIN. A duplicate
// email is a 409 regardless of which tenant owns it.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		WriteBadRequest(w, "A valid email is required")
		return
	}
	if len(req.Password) < 8 {
		WriteBadRequest(w, "Password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	tenantID := "ten-" + uuid.NewString()
	repos, err := s.repos(tenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	user := &contracts.User{
		TenantID:     tenantID,
		UserID:       "u-" + uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         contracts.RoleAdmin,
		CreatedAt:    s.now().UTC(),
	}
	if err := repos.Users.Create(r.Context(), user); err != nil {
		if isConflict(err) {
			WriteConflict(w, "An account with this email already exists")
			return
		}
		writeServiceError(w, err)
		return
	}
	s.audit(r.Context(), repos, user.UserID, "auth.signup", user.Email, "")

	s.writeSession(w, user, http.StatusCreated)
}

// handleLogin exchanges email/password for an access token plus a
// rotated refresh cookie. Failures are counted per (email, IP); five
// consecutive failures trigger exponential backoff.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	ip := clientIP(r)

	if ok, wait := s.logins.Allow(req.Email, ip); !ok {
		WriteTooManyRequests(w, auth.RetryAfterSeconds(wait), "Too many failed login attempts")
		return
	}

	user, err := s.userByEmail(r.Context(), req.Email)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.logins.RecordFailure(req.Email, ip)
		WriteUnauthorized(w, "Invalid email or password")
		return
	}
	if user.DisabledAt != nil {
		WriteForbidden(w, "Account disabled")
		return
	}
	s.logins.RecordSuccess(req.Email, ip)

	if repos, err := s.repos(user.TenantID); err == nil {
		s.audit(r.Context(), repos, user.UserID, "auth.login", user.Email, "")
	}
	s.writeSession(w, user, http.StatusOK)
}

// handleRefresh rotates the refresh cookie and mints a new access
// token. The previous refresh token is superseded by the new cookie.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userFromRefreshCookie(w, r)
	if !ok {
		return
	}
	s.writeSession(w, user, http.StatusOK)
}

// handleSession restores a session from the refresh cookie without
// rotating it, for page loads.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userFromRefreshCookie(w, r)
	if !ok {
		return
	}
	token, err := s.access.Mint(identityOf(user))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(auth.DefaultTokenTTL / time.Second),
		User:        userView(user),
	})
}

// handleLogout clears the refresh cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// writeSession mints both tokens, sets the refresh cookie and writes
// the session body. Refresh tokens never appear in JSON.
func (s *Server) writeSession(w http.ResponseWriter, user *contracts.User, status int) {
	id := identityOf(user)
	access, err := s.access.Mint(id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	refresh, err := s.refresh.Mint(id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh,
		Path:     refreshCookiePath,
		MaxAge:   int(s.refreshTTL / time.Second),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	WriteJSON(w, status, sessionResponse{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int64(auth.DefaultTokenTTL / time.Second),
		User:        userView(user),
	})
}

// userFromRefreshCookie validates the cookie and reloads the user row,
// so disabled accounts lose their sessions at the next refresh.
func (s *Server) userFromRefreshCookie(w http.ResponseWriter, r *http.Request) (*contracts.User, bool) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		WriteUnauthorized(w, "No session")
		return nil, false
	}
	id, err := s.refresh.Validate(r.Context(), cookie.Value)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return nil, false
	}
	user, err := repos.Users.Get(r.Context(), id.UserID)
	if err != nil {
		WriteUnauthorized(w, "No session")
		return nil, false
	}
	if user.DisabledAt != nil {
		WriteForbidden(w, "Account disabled")
		return nil, false
	}
	return user, true
}

func identityOf(u *contracts.User) *auth.Identity {
	return &auth.Identity{
		UserID:   u.UserID,
		TenantID: u.TenantID,
		Role:     u.Role,
		Kind:     auth.KindUser,
	}
}

func userView(u *contracts.User) sessionUser {
	return sessionUser{
		UserID:   u.UserID,
		TenantID: u.TenantID,
		Email:    u.Email,
		Role:     u.Role,
	}
}

// clientIP extracts the caller address for login rate limiting.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeBody reads a bounded JSON body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return err
	}
	return nil
}
