// Package contractcheck validates a model's declared schema contract
// against its actual output columns. Violations are ordered
// deterministically so they can appear verbatim inside plan JSON.
package contractcheck

import (
	"fmt"
	"sort"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/sqlnorm"
)

// ActualSchema describes a model's observed output. Types and
// nullability are optional refinements; when absent the corresponding
// checks are skipped.
type ActualSchema struct {
	Columns  []string
	Types    map[string]string // column → data type, optional
	Nullable map[string]bool   // column → allows NULL, optional
}

// Validate compares the model's contract against its actual schema.
// Models with ContractDisabled produce no violations. In WARN mode
// breaking violations are downgraded to WARNING severity; callers gate
// on the breaking count, so WARN-mode plans report but never block.
func Validate(model *contracts.ModelDefinition, actual ActualSchema) []contracts.ContractViolation {
	if model.ContractMode == contracts.ContractDisabled || len(model.ContractColumns) == 0 {
		return nil
	}

	actualSet := make(map[string]bool, len(actual.Columns))
	for _, c := range actual.Columns {
		actualSet[c] = true
	}
	contractSet := make(map[string]bool, len(model.ContractColumns))

	var violations []contracts.ContractViolation

	for _, col := range model.ContractColumns {
		contractSet[col.Name] = true

		if !actualSet[col.Name] {
			violations = append(violations, contracts.ContractViolation{
				ModelName:  model.Name,
				ColumnName: col.Name,
				Type:       contracts.ViolationColumnRemoved,
				Severity:   contracts.ViolationBreaking,
				Detail:     fmt.Sprintf("contract column %q missing from output", col.Name),
			})
			continue
		}

		if actual.Types != nil {
			if actualType, known := actual.Types[col.Name]; known {
				want := sqlnorm.NormalizeDataType(col.DataType)
				got := sqlnorm.NormalizeDataType(actualType)
				if want != got {
					violations = append(violations, contracts.ContractViolation{
						ModelName:  model.Name,
						ColumnName: col.Name,
						Type:       contracts.ViolationTypeChanged,
						Severity:   contracts.ViolationBreaking,
						Detail:     fmt.Sprintf("contract declares %s, actual is %s", want, got),
					})
				}
			}
		}

		if !col.Nullable && actual.Nullable != nil {
			if allowsNull, known := actual.Nullable[col.Name]; known && allowsNull {
				violations = append(violations, contracts.ContractViolation{
					ModelName:  model.Name,
					ColumnName: col.Name,
					Type:       contracts.ViolationNullableTightened,
					Severity:   contracts.ViolationBreaking,
					Detail:     fmt.Sprintf("contract declares %q NOT NULL but output allows NULL", col.Name),
				})
			}
		}
	}

	for _, c := range actual.Columns {
		if !contractSet[c] {
			violations = append(violations, contracts.ContractViolation{
				ModelName:  model.Name,
				ColumnName: c,
				Type:       contracts.ViolationColumnAdded,
				Severity:   contracts.ViolationInfo,
				Detail:     fmt.Sprintf("output column %q is not in the contract", c),
			})
		}
	}

	if model.ContractMode == contracts.ContractWarn {
		for i := range violations {
			if violations[i].Severity == contracts.ViolationBreaking {
				violations[i].Severity = contracts.ViolationWarning
			}
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.ModelName != b.ModelName {
			return a.ModelName < b.ModelName
		}
		if a.ColumnName != b.ColumnName {
			return a.ColumnName < b.ColumnName
		}
		return a.Type < b.Type
	})
	return violations
}

// CountBreaking returns the number of BREAKING violations.
func CountBreaking(violations []contracts.ContractViolation) int {
	n := 0
	for _, v := range violations {
		if v.Severity == contracts.ViolationBreaking {
			n++
		}
	}
	return n
}
