package api

import (
	"net/http"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/lineage"
	"github.com/ironlayer/ironlayer/pkg/loader"
	"github.com/ironlayer/ironlayer/pkg/repository"
)

// handleListModels lists the stored snapshot with optional kind, owner
// and search filters.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	q := r.URL.Query()
	models, err := repos.Models.List(r.Context(), repository.ListFilter{
		Kind:   contracts.ModelKind(q.Get("kind")),
		Owner:  q.Get("owner"),
		Search: q.Get("search"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	env := q.Get("environment")
	if env == "" {
		env = "prod"
	}
	byName := make(map[string]*contracts.ModelDefinition, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"models":        models,
		"count":         len(models),
		"snapshot_hash": loader.SnapshotHash(id.TenantID, env, byName),
	})
}

// handleModelLineage reports the direct and transitive neighbors of a
// model in the stored DAG.
func (s *Server) handleModelLineage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	name := r.PathValue("name")
	models, graph, err := s.storedGraph(r, repos)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, ok := models[name]; !ok {
		WriteNotFound(w, "Model not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"model":                 name,
		"upstream":              graph.Upstream(name),
		"downstream":            graph.Downstream(name),
		"transitive_downstream": graph.TransitiveDownstream([]string{name}),
	})
}

// handleColumnLineage traces column provenance. Without a column
// parameter it returns the lineage of every output column of the
// model; with one it traces that column through upstream models.
func (s *Server) handleColumnLineage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	repos, err := s.repos(id.TenantID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	name := r.PathValue("name")
	models, _, err := s.storedGraph(r, repos)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	model, ok := models[name]
	if !ok {
		WriteNotFound(w, "Model not found")
		return
	}
	schema := schemaOf(models)

	if column := r.URL.Query().Get("column"); column != "" {
		trace, err := lineage.Trace(models, name, column, schema)
		if err != nil {
			WriteUnprocessable(w, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"model":  name,
			"column": column,
			"trace":  trace,
		})
		return
	}

	cols, err := lineage.Extract(model.CleanSQL, schema)
	if err != nil {
		WriteUnprocessable(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"model":   name,
		"columns": cols,
	})
}

// storedGraph loads the stored snapshot and builds its DAG.
func (s *Server) storedGraph(r *http.Request, repos *repository.Repositories) (map[string]*contracts.ModelDefinition, *dag.Graph, error) {
	list, err := repos.Models.List(r.Context(), repository.ListFilter{})
	if err != nil {
		return nil, nil, err
	}
	models := make(map[string]*contracts.ModelDefinition, len(list))
	for _, m := range list {
		models[m.Name] = m
	}
	graph, err := dag.Build(models)
	if err != nil {
		return nil, nil, err
	}
	return models, graph, nil
}

// schemaOf derives a table → column → type map from the snapshot,
// preferring contract-declared types over the bare output column list.
func schemaOf(models map[string]*contracts.ModelDefinition) map[string]map[string]string {
	schema := make(map[string]map[string]string, len(models))
	for name, m := range models {
		cols := make(map[string]string, len(m.OutputColumns))
		for _, c := range m.OutputColumns {
			cols[c] = "UNKNOWN"
		}
		for _, c := range m.ContractColumns {
			cols[c.Name] = c.DataType
		}
		if len(cols) > 0 {
			schema[name] = cols
		}
	}
	return schema
}
