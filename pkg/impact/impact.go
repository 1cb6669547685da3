// Package impact simulates the downstream blast radius of a proposed
// schema change before it is made.
package impact

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/dag"
	"github.com/ironlayer/ironlayer/pkg/sqlnorm"
)

// ChangeType is the kind of proposed change.
type ChangeType string

const (
	ChangeRemoveColumn ChangeType = "REMOVE_COLUMN"
	ChangeAddColumn    ChangeType = "ADD_COLUMN"
	ChangeRenameColumn ChangeType = "RENAME_COLUMN"
	ChangeTypeChange   ChangeType = "TYPE_CHANGE"
	ChangeRemoveModel  ChangeType = "REMOVE_MODEL"
)

// Change describes one proposed modification to a model.
type Change struct {
	Type      ChangeType
	ModelName string
	Column    string
	NewColumn string // RENAME_COLUMN
	OldType   string // TYPE_CHANGE
	NewType   string // TYPE_CHANGE
}

// Severity ranks the effect on one downstream model.
type Severity string

const (
	SeverityBreaking Severity = "BREAKING"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// ModelImpact is the simulated effect on one downstream model. Each
// affected model appears exactly once, no matter how many paths lead
// to it.
type ModelImpact struct {
	ModelName          string
	ColumnsAffected    []string
	Severity           Severity
	ContractViolations []contracts.ContractViolation
	Detail             string
}

// safeWidenings lists type transitions that cannot lose information.
// Everything else is treated as breaking.
var safeWidenings = map[string]map[string]bool{
	"INT":       {"BIGINT": true, "DECIMAL": true, "DOUBLE": true},
	"BIGINT":    {"DECIMAL": true, "DOUBLE": true},
	"DECIMAL":   {"DOUBLE": true},
	"DATE":      {"TIMESTAMP": true},
	"STRING":    {},
	"BOOLEAN":   {},
	"TIMESTAMP": {},
	"DOUBLE":    {},
}

// TypeChangeSeverity classifies an old→new type transition after
// normalization. Identical types are INFO, safe widenings WARNING,
// anything else BREAKING.
func TypeChangeSeverity(oldType, newType string) Severity {
	o := sqlnorm.NormalizeDataType(oldType)
	n := sqlnorm.NormalizeDataType(newType)
	if o == n {
		return SeverityInfo
	}
	if safe, ok := safeWidenings[o]; ok && safe[n] {
		return SeverityWarning
	}
	return SeverityBreaking
}

// Simulate walks the dependency graph downstream from the changed
// model and reports the effect on every descendant.
func Simulate(models map[string]*contracts.ModelDefinition, g *dag.Graph, change Change) ([]ModelImpact, error) {
	if _, ok := models[change.ModelName]; !ok {
		return nil, fmt.Errorf("impact: unknown model %q", change.ModelName)
	}

	baseSeverity := severityFor(change)

	// TransitiveDownstream dedupes the diamond pattern: each descendant
	// appears once regardless of path count.
	affected := g.TransitiveDownstream([]string{change.ModelName})

	impacts := make([]ModelImpact, 0, len(affected))
	for _, name := range affected {
		if name == change.ModelName {
			continue
		}
		model, ok := models[name]
		if !ok {
			continue
		}
		impact := ModelImpact{
			ModelName: name,
			Severity:  baseSeverity,
			Detail:    describeChange(change),
		}

		if change.Type == ChangeRemoveModel {
			impact.ColumnsAffected = []string{}
			impacts = append(impacts, impact)
			continue
		}

		impact.ColumnsAffected = columnsReferencing(model, change.Column)
		if len(impact.ColumnsAffected) == 0 && !referencesColumn(model, change.Column) {
			// The descendant depends on the model but never touches the
			// changed column.
			impact.Severity = SeverityInfo
			impact.Detail = "downstream of changed model, column not referenced"
		}
		impact.ContractViolations = contractHits(model, change, impact.ColumnsAffected)
		if len(impact.ContractViolations) > 0 && impact.Severity != SeverityBreaking {
			impact.Severity = SeverityBreaking
		}
		impacts = append(impacts, impact)
	}

	sort.Slice(impacts, func(i, j int) bool {
		return impacts[i].ModelName < impacts[j].ModelName
	})
	return impacts, nil
}

func severityFor(change Change) Severity {
	switch change.Type {
	case ChangeRemoveColumn, ChangeRemoveModel, ChangeRenameColumn:
		return SeverityBreaking
	case ChangeTypeChange:
		return TypeChangeSeverity(change.OldType, change.NewType)
	case ChangeAddColumn:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

func describeChange(change Change) string {
	switch change.Type {
	case ChangeRemoveColumn:
		return fmt.Sprintf("column %s removed from %s", change.Column, change.ModelName)
	case ChangeAddColumn:
		return fmt.Sprintf("column %s added to %s", change.Column, change.ModelName)
	case ChangeRenameColumn:
		return fmt.Sprintf("column %s renamed to %s on %s", change.Column, change.NewColumn, change.ModelName)
	case ChangeTypeChange:
		return fmt.Sprintf("column %s on %s changes %s -> %s", change.Column, change.ModelName, change.OldType, change.NewType)
	case ChangeRemoveModel:
		return fmt.Sprintf("model %s removed", change.ModelName)
	default:
		return string(change.Type)
	}
}

// columnsReferencing returns the descendant's output columns that match
// the changed source column by name. Without a full AST this is a
// conservative name-based match.
func columnsReferencing(model *contracts.ModelDefinition, column string) []string {
	if column == "" {
		return []string{}
	}
	var hits []string
	for _, out := range model.OutputColumns {
		if strings.EqualFold(out, column) {
			hits = append(hits, out)
		}
	}
	if hits == nil {
		hits = []string{}
	}
	sort.Strings(hits)
	return hits
}

// referencesColumn looks for the column name anywhere in the
// descendant's cleaned SQL.
func referencesColumn(model *contracts.ModelDefinition, column string) bool {
	if column == "" {
		return false
	}
	return strings.Contains(strings.ToLower(model.CleanSQL), strings.ToLower(column))
}

func contractHits(model *contracts.ModelDefinition, change Change, affectedColumns []string) []contracts.ContractViolation {
	if model.ContractMode == contracts.ContractDisabled || len(model.ContractColumns) == 0 {
		return nil
	}
	affected := make(map[string]bool, len(affectedColumns))
	for _, c := range affectedColumns {
		affected[strings.ToLower(c)] = true
	}
	var violations []contracts.ContractViolation
	for _, cc := range model.ContractColumns {
		if !affected[strings.ToLower(cc.Name)] {
			continue
		}
		vt := contracts.ViolationColumnRemoved
		if change.Type == ChangeTypeChange {
			vt = contracts.ViolationTypeChanged
		}
		violations = append(violations, contracts.ContractViolation{
			ModelName:  model.Name,
			ColumnName: cc.Name,
			Type:       vt,
			Severity:   contracts.ViolationBreaking,
			Detail:     describeChange(change),
		})
	}
	return violations
}
