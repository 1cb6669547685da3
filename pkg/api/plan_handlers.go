package api

import (
	"errors"
	"net/http"

	"github.com/ironlayer/ironlayer/pkg/contractcheck"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/diff"
	"github.com/ironlayer/ironlayer/pkg/loader"
	"github.com/ironlayer/ironlayer/pkg/planner"
	"github.com/ironlayer/ironlayer/pkg/repository"
	"github.com/ironlayer/ironlayer/pkg/tiers"
)

type createPlanRequest struct {
	RepoPath string `json:"repo_path"`
	Base     string `json:"base"`
	Target   string `json:"target"`
	AsOfDate string `json:"as_of_date"`
}

// handleCreatePlan loads the model repo, diffs it against the stored
// snapshot and generates a deterministic plan. The plan is persisted
// and the loaded models become the new stored snapshot.
func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req createPlanRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.RepoPath == "" {
		WriteBadRequest(w, "repo_path is required")
		return
	}
	if req.AsOfDate == "" {
		WriteBadRequest(w, "as_of_date is required")
		return
	}
	// Revisions are caller-resolved git SHAs; the planner validates
	// their shape and rejects symbolic names like "main".
	if req.Base == "" || req.Target == "" {
		WriteBadRequest(w, "base and target revisions are required")
		return
	}

	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	decision, err := s.quota.CheckPlanQuota(r.Context(), id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !decision.Allowed {
		WriteTooManyRequests(w, "", decision.Reason)
		return
	}

	models, err := loader.New(req.RepoPath, s.logger).LoadAll()
	if err != nil {
		WriteBadRequest(w, "Model repository failed to load: "+err.Error())
		return
	}
	graph, err := dag.Build(models)
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			WriteUnprocessable(w, cycle.Error())
			return
		}
		WriteBadRequest(w, err.Error())
		return
	}

	stored, err := repos.Models.List(r.Context(), repository.ListFilter{})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	baseSQL := make(map[string]string, len(stored))
	baseVersions := make(map[string]string, len(stored))
	for _, m := range stored {
		baseVersions[m.Name] = m.ContentHash
		baseSQL[m.Name] = m.CleanSQL
	}
	d := diff.Compute(baseVersions, loader.SnapshotVersions(models),
		func(name string) (string, bool) { sql, ok := baseSQL[name]; return sql, ok },
		func(name string) (string, bool) {
			if m, ok := models[name]; ok {
				return m.CleanSQL, true
			}
			return "", false
		})

	violations := make(map[string][]contracts.ContractViolation)
	for _, name := range append(append([]string{}, d.AddedModels...), d.ModifiedModels...) {
		m := models[name]
		if m == nil || m.ContractMode == contracts.ContractDisabled {
			continue
		}
		v := contractcheck.Validate(m, contractcheck.ActualSchema{Columns: m.OutputColumns})
		if len(v) > 0 {
			violations[name] = v
		}
	}

	watermarks, err := repos.Watermarks.All(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	runStats := make(map[string]contracts.RunStats, len(models))
	for name := range models {
		stats, err := repos.Runs.Stats(r.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		runStats[name] = stats
	}

	plan, err := planner.Generate(planner.Inputs{
		Models:     models,
		Diff:       d,
		Graph:      graph,
		Watermarks: watermarks,
		RunStats:   runStats,
		Violations: violations,
		Base:       req.Base,
		Target:     req.Target,
		AsOfDate:   req.AsOfDate,
	}, planner.DefaultConfig())
	if err != nil {
		WriteUnprocessable(w, err.Error())
		return
	}

	if err := s.planService(repos).Create(r.Context(), id.TenantID, plan); err != nil {
		writeServiceError(w, err)
		return
	}
	for _, m := range models {
		m.TenantID = id.TenantID
		if err := repos.Models.Upsert(r.Context(), m); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	s.meter.Record(id.TenantID, contracts.MeterModelLoaded, int64(len(models)), nil)
	s.audit(r.Context(), repos, id.UserID, "plan.create", plan.PlanID, "")

	s.writePlan(w, http.StatusCreated, plan)
}

// handleGetPlan retrieves one plan in canonical wire form.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	plan, err := s.planService(repos).Get(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.writePlan(w, http.StatusOK, plan)
}

type approveRequest struct {
	Comment string `json:"comment"`
}

// handleApprovePlan records an approval by the acting user.
func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	actor, err := s.actor(r.Context(), repos, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	plan, err := s.planService(repos).Approve(r.Context(), id.TenantID, r.PathValue("id"), actor, req.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.audit(r.Context(), repos, id.UserID, "plan.approve", plan.PlanID, req.Comment)
	s.writePlan(w, http.StatusOK, plan)
}

// handleAugmentPlan attaches an AI advisory to a plan. Gated on the
// ai_advisory tier feature and the tenant's AI quota.
func (s *Server) handleAugmentPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	if s.advisory == nil {
		WriteNotFound(w, "AI advisory is not configured")
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	tier, err := s.tenantTier(r.Context(), repos, id.TenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !tiers.Get(tiers.TierID(tier)).HasFeature("ai_advisory") {
		WritePaymentRequired(w, "AI advisory requires the Team tier or above")
		return
	}
	decision, err := s.quota.CheckAIQuota(r.Context(), id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !decision.Allowed {
		WriteTooManyRequests(w, "", decision.Reason)
		return
	}

	plan, err := s.planService(repos).Get(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	advisory, err := s.advisory.Augment(r.Context(), plan)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.meter.Record(id.TenantID, contracts.MeterAICall, 1, map[string]string{"plan_id": plan.PlanID})

	WriteJSON(w, http.StatusOK, map[string]any{
		"plan_id":  plan.PlanID,
		"advisory": advisory,
	})
}

// handleApplyPlan runs the apply gate and submits the plan. Wrapped in
// the idempotency middleware so a retried request with the same
// Idempotency-Key replays the original response.
func (s *Server) handleApplyPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	actor, err := s.actor(r.Context(), repos, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	planID := r.PathValue("id")
	externalRunID, err := s.planService(repos).Apply(r.Context(), id.TenantID, planID, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.audit(r.Context(), repos, id.UserID, "plan.apply", planID, externalRunID)

	WriteJSON(w, http.StatusOK, map[string]string{
		"plan_id":         planID,
		"external_run_id": externalRunID,
		"status":          "submitted",
	})
}

// writePlan serializes through the canonical plan serializer so wire
// output always has sorted keys and no timestamps.
func (s *Server) writePlan(w http.ResponseWriter, status int, plan *contracts.Plan) {
	data, err := planner.Serialize(plan)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
