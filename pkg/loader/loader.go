// Package loader reads SQL model files with comment-style headers and
// produces canonical ModelDefinition records: parsed metadata, a
// normalized body, a content hash, and best-effort structural analysis
// (referenced tables, output columns).
package loader

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/canonicalize"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/sqlnorm"
)

// Loader reads every .sql file under a root directory.
type Loader struct {
	root   string
	logger *slog.Logger
}

// New creates a Loader rooted at dir.
func New(root string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{root: root, logger: logger}
}

// LoadAll walks the root and loads every model file, returning models
// keyed by name. Duplicate model names across files are an error.
func (l *Loader) LoadAll() (map[string]*contracts.ModelDefinition, error) {
	models := make(map[string]*contracts.ModelDefinition)

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".sql") {
			return nil
		}
		model, err := l.LoadFile(path)
		if err != nil {
			return err
		}
		if existing, dup := models[model.Name]; dup {
			return fmt.Errorf("loader: model %q defined in both %s and %s", model.Name, existing.FilePath, model.FilePath)
		}
		models[model.Name] = model
		return nil
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// LoadFile parses one model file.
func (l *Loader) LoadFile(path string) (*contracts.ModelDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	rel, relErr := filepath.Rel(l.root, path)
	if relErr != nil {
		rel = path
	}
	return Parse(rel, string(raw))
}

// Parse builds a ModelDefinition from raw file content. The file path
// is used for error reporting and for the default model name.
func Parse(path, content string) (*contracts.ModelDefinition, error) {
	h, err := parseHeader(path, content)
	if err != nil {
		return nil, err
	}

	body := content[h.bodyStart:]
	clean := sqlnorm.Normalize(body)
	if clean == "" {
		return nil, &HeaderParseError{File: path, Msg: "model file has no SQL body"}
	}

	model := &contracts.ModelDefinition{
		Name:            h.values["name"],
		Kind:            contracts.KindFullRefresh,
		Materialization: contracts.MaterializationTable,
		TimeColumn:      h.values["time_column"],
		UniqueKey:       h.values["unique_key"],
		Owner:           h.values["owner"],
		Tags:            splitList(h.values["tags"]),
		FilePath:        path,
		RawSQL:          body,
		CleanSQL:        clean,
		ContentHash:     canonicalize.HashBytes([]byte(clean)),
		Dependencies:    splitList(h.values["depends_on"]),
		ContractMode:    contracts.ContractDisabled,
		Tests:           h.tests,
	}

	if model.Name == "" {
		model.Name = nameFromPath(path)
	}

	if kind, ok := h.values["kind"]; ok {
		switch contracts.ModelKind(kind) {
		case contracts.KindFullRefresh, contracts.KindIncrementalByTime,
			contracts.KindMergeByKey, contracts.KindAppendOnly:
			model.Kind = contracts.ModelKind(kind)
		default:
			return nil, &HeaderParseError{File: path, Msg: fmt.Sprintf("unknown kind %q", kind)}
		}
	}

	if mat, ok := h.values["materialization"]; ok {
		switch contracts.Materialization(mat) {
		case contracts.MaterializationTable, contracts.MaterializationView,
			contracts.MaterializationInsertOverwrite, contracts.MaterializationMerge:
			model.Materialization = contracts.Materialization(mat)
		default:
			return nil, &HeaderParseError{File: path, Msg: fmt.Sprintf("unknown materialization %q", mat)}
		}
	}

	if mode, ok := h.values["contract_mode"]; ok {
		switch contracts.ContractMode(mode) {
		case contracts.ContractDisabled, contracts.ContractWarn, contracts.ContractStrict:
			model.ContractMode = contracts.ContractMode(mode)
		default:
			return nil, &HeaderParseError{File: path, Msg: fmt.Sprintf("unknown contract_mode %q", mode)}
		}
	}

	if model.Kind == contracts.KindMergeByKey && model.UniqueKey == "" {
		return nil, &HeaderParseError{File: path, Msg: "MERGE_BY_KEY requires unique_key"}
	}

	cols, err := parseContractColumns(path, h.values["contract_columns"])
	if err != nil {
		return nil, err
	}
	model.ContractColumns = cols

	// Structural analysis is best-effort: a model whose SQL defeats the
	// analyzer still loads, with empty referenced tables and columns.
	model.ReferencedTables = sqlnorm.ReferencedTables(clean)
	if outputs, ok := sqlnorm.OutputColumns(clean); ok {
		model.OutputColumns = outputs
	}

	return model, nil
}

// nameFromPath derives "dir.file" from a relative path like
// "staging/orders.sql".
func nameFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir := filepath.Base(filepath.Dir(path))
	if dir == "." || dir == string(filepath.Separator) {
		return base
	}
	return dir + "." + base
}

// SnapshotVersions returns model name → content hash for a model set,
// the input shape the structural diff consumes.
func SnapshotVersions(models map[string]*contracts.ModelDefinition) map[string]string {
	versions := make(map[string]string, len(models))
	for name, m := range models {
		versions[name] = m.ContentHash
	}
	return versions
}

// SnapshotHash fingerprints a model snapshot for one tenant and
// environment. Both are part of the derivation, so identical model
// sets in different tenants never share a hash.
func SnapshotHash(tenantID, environment string, models map[string]*contracts.ModelDefinition) string {
	parts := make([]string, 0, 2*len(models)+2)
	parts = append(parts, tenantID, environment)
	for _, name := range SortedNames(models) {
		parts = append(parts, name, models[name].ContentHash)
	}
	return canonicalize.HashParts(parts...)
}

// SortedNames returns model names in alphabetical order.
func SortedNames(models map[string]*contracts.ModelDefinition) []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
