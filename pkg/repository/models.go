package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// ModelRepo persists model definitions for one tenant.
type ModelRepo struct {
	db       *sql.DB
	dialect  Dialect
	tenantID string
}

const modelColumns = `tenant_id, name, kind, materialization, time_column, unique_key, owner, tags,
	file_path, raw_sql, clean_sql, content_hash, referenced_tables, dependencies, output_columns,
	contract_mode, contract_columns, tests`

// Upsert inserts or replaces the model record keyed by (tenant, name).
// Models are re-upserted on every plan generation.
func (r *ModelRepo) Upsert(ctx context.Context, m *contracts.ModelDefinition) error {
	tags, err := json.Marshal(emptySlice(m.Tags))
	if err != nil {
		return fmt.Errorf("repository: marshal model: %w", err)
	}
	refs, _ := json.Marshal(emptySlice(m.ReferencedTables))
	deps, _ := json.Marshal(emptySlice(m.Dependencies))
	outs, _ := json.Marshal(emptySlice(m.OutputColumns))
	ccols, err := json.Marshal(m.ContractColumns)
	if err != nil {
		return fmt.Errorf("repository: marshal contract columns: %w", err)
	}
	tests, err := json.Marshal(m.Tests)
	if err != nil {
		return fmt.Errorf("repository: marshal tests: %w", err)
	}

	query := `INSERT INTO models (` + modelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			kind = EXCLUDED.kind,
			materialization = EXCLUDED.materialization,
			time_column = EXCLUDED.time_column,
			unique_key = EXCLUDED.unique_key,
			owner = EXCLUDED.owner,
			tags = EXCLUDED.tags,
			file_path = EXCLUDED.file_path,
			raw_sql = EXCLUDED.raw_sql,
			clean_sql = EXCLUDED.clean_sql,
			content_hash = EXCLUDED.content_hash,
			referenced_tables = EXCLUDED.referenced_tables,
			dependencies = EXCLUDED.dependencies,
			output_columns = EXCLUDED.output_columns,
			contract_mode = EXCLUDED.contract_mode,
			contract_columns = EXCLUDED.contract_columns,
			tests = EXCLUDED.tests`

	_, err = r.db.ExecContext(ctx, rebind(r.dialect, query),
		r.tenantID, m.Name, string(m.Kind), string(m.Materialization),
		m.TimeColumn, m.UniqueKey, m.Owner, string(tags),
		m.FilePath, m.RawSQL, m.CleanSQL, m.ContentHash,
		string(refs), string(deps), string(outs),
		string(m.ContractMode), string(ccols), string(tests))
	return translateErr(err)
}

// Get loads one model by name.
func (r *ModelRepo) Get(ctx context.Context, name string) (*contracts.ModelDefinition, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE tenant_id = $1 AND name = $2`
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID, name)
	m, err := scanModel(row)
	if err != nil {
		return nil, translateErr(err)
	}
	return m, nil
}

// ListFilter narrows a model listing. Zero values match everything;
// Search matches a substring of the name.
type ListFilter struct {
	Kind   contracts.ModelKind
	Owner  string
	Search string
}

// List returns the tenant's models ordered by name.
func (r *ModelRepo) List(ctx context.Context, filter ListFilter) ([]*contracts.ModelDefinition, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE tenant_id = $1`
	args := []any{r.tenantID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Owner != "" {
		args = append(args, filter.Owner)
		query += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		query += fmt.Sprintf(" AND LOWER(name) LIKE $%d", len(args))
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer func() { _ = rows.Close() }()

	var models []*contracts.ModelDefinition
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// Count returns the number of models the tenant has, for quota checks.
func (r *ModelRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM models WHERE tenant_id = $1`
	err := r.db.QueryRowContext(ctx, rebind(r.dialect, query), r.tenantID).Scan(&n)
	return n, translateErr(err)
}

// Delete removes a model by name.
func (r *ModelRepo) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM models WHERE tenant_id = $1 AND name = $2`
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, query), r.tenantID, name)
	if err != nil {
		return translateErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (*contracts.ModelDefinition, error) {
	var m contracts.ModelDefinition
	var kind, mat, mode string
	var tags, refs, deps, outs, ccols, tests string
	err := row.Scan(&m.TenantID, &m.Name, &kind, &mat, &m.TimeColumn, &m.UniqueKey, &m.Owner, &tags,
		&m.FilePath, &m.RawSQL, &m.CleanSQL, &m.ContentHash, &refs, &deps, &outs,
		&mode, &ccols, &tests)
	if err != nil {
		return nil, err
	}
	m.Kind = contracts.ModelKind(kind)
	m.Materialization = contracts.Materialization(mat)
	m.ContractMode = contracts.ContractMode(mode)
	for _, f := range []struct {
		raw string
		dst any
	}{
		{tags, &m.Tags}, {refs, &m.ReferencedTables}, {deps, &m.Dependencies},
		{outs, &m.OutputColumns}, {ccols, &m.ContractColumns}, {tests, &m.Tests},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("repository: decode model %s: %w", m.Name, err)
		}
	}
	return &m, nil
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
