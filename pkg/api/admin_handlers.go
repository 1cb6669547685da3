package api

import (
	"net/http"
	"strconv"

	"github.com/ironlayer/ironlayer/pkg/repository"
	"github.com/ironlayer/ironlayer/pkg/tiers"
)

// handleAudit lists the tenant's audit trail, newest first. The audit
// log is an enterprise feature.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !s.requireFeature(w, r, repos, id.TenantID, "audit_log") {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			WriteBadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := repos.Audit.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleReconcile runs an on-demand reconciliation pass for the
// tenant. Enterprise only; scheduled passes run in the background
// regardless of this endpoint.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if s.reconciler == nil {
		WriteNotFound(w, "Reconciliation is not configured")
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !s.requireFeature(w, r, repos, id.TenantID, "reconciliation") {
		return
	}
	discrepancies, err := s.reconciler.Reconcile(r.Context(), id.TenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.audit(r.Context(), repos, id.UserID, "reconciliation.trigger", id.TenantID,
		strconv.Itoa(discrepancies)+" discrepancies")
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "completed",
		"discrepancies": discrepancies,
	})
}

// requireFeature writes a 402 and returns false when the tenant's tier
// lacks the feature.
func (s *Server) requireFeature(w http.ResponseWriter, r *http.Request, repos *repository.Repositories, tenantID, feature string) bool {
	tier, err := s.tenantTier(r.Context(), repos, tenantID)
	if err != nil {
		writeServiceError(w, err)
		return false
	}
	if !tiers.Get(tiers.TierID(tier)).HasFeature(feature) {
		WritePaymentRequired(w, "This feature requires the Enterprise tier")
		return false
	}
	return true
}
