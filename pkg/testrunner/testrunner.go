// Package testrunner turns declarative data tests into SQL assertion
// queries. Identifiers are embedded directly in the SQL text, so every
// identifier and literal is validated before any SQL is constructed —
// this allowlist is the only injection defense.
package testrunner

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

var (
	// ErrUnsafeIdentifier is returned when a model or column name falls
	// outside the identifier allowlist.
	ErrUnsafeIdentifier = errors.New("testrunner: unsafe SQL identifier")
	// ErrUnsafeValue is returned when an accepted value contains a
	// quote, backslash or semicolon.
	ErrUnsafeValue = errors.New("testrunner: unsafe accepted value")
	// ErrBadDefinition is returned for a structurally invalid test.
	ErrBadDefinition = errors.New("testrunner: invalid test definition")
)

// identPart matches one dot-separated identifier segment.
var identPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier accepts dotted identifiers whose every segment
// matches [A-Za-z_][A-Za-z0-9_]*.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeIdentifier)
	}
	for _, part := range strings.Split(name, ".") {
		if !identPart.MatchString(part) {
			return fmt.Errorf("%w: %q", ErrUnsafeIdentifier, name)
		}
	}
	return nil
}

// validateValue rejects literals that could escape their quoting.
func validateValue(v string) error {
	if strings.ContainsAny(v, `'\;`) {
		return fmt.Errorf("%w: %q", ErrUnsafeValue, v)
	}
	return nil
}

// GenerateSQL builds the assertion query for one test. The query
// returns a single scalar; the test passes iff that scalar is zero.
func GenerateSQL(modelName string, def contracts.TestDefinition) (string, error) {
	if err := ValidateIdentifier(modelName); err != nil {
		return "", err
	}
	switch def.Type {
	case contracts.TestNotNull:
		if err := ValidateIdentifier(def.Column); err != nil {
			return "", err
		}
		return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", modelName, def.Column), nil

	case contracts.TestUnique:
		if err := ValidateIdentifier(def.Column); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1)",
			def.Column, modelName, def.Column), nil

	case contracts.TestAcceptedValues:
		if err := ValidateIdentifier(def.Column); err != nil {
			return "", err
		}
		if len(def.Values) == 0 {
			return "", fmt.Errorf("%w: ACCEPTED_VALUES needs at least one value", ErrBadDefinition)
		}
		quoted := make([]string, len(def.Values))
		for i, v := range def.Values {
			if err := validateValue(v); err != nil {
				return "", err
			}
			quoted[i] = "'" + v + "'"
		}
		return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s NOT IN (%s)",
			modelName, def.Column, strings.Join(quoted, ", ")), nil

	case contracts.TestRowCountMin:
		if def.MinCount <= 0 {
			return "", fmt.Errorf("%w: ROW_COUNT_MIN needs a positive threshold", ErrBadDefinition)
		}
		return fmt.Sprintf("SELECT CASE WHEN COUNT(*) < %d THEN 1 ELSE 0 END FROM %s",
			def.MinCount, modelName), nil

	default:
		return "", fmt.Errorf("%w: unknown test type %q", ErrBadDefinition, def.Type)
	}
}

// Querier executes one assertion query and returns its scalar.
type Querier interface {
	QueryScalar(ctx context.Context, sql string) (int64, error)
}

// Result is one executed test outcome.
type Result struct {
	ModelName string
	Test      contracts.TestDefinition
	SQL       string
	Passed    bool
	Scalar    int64
	Err       error
}

// Blocking reports whether this result vetoes plan apply.
func (r Result) Blocking() bool {
	return !r.Passed && r.Test.Severity == contracts.SeverityBlock
}

// Runner executes a model's declared tests against a warehouse.
type Runner struct {
	querier Querier
}

// NewRunner creates a test runner.
func NewRunner(querier Querier) *Runner {
	return &Runner{querier: querier}
}

// RunAll executes every test on a model. Generation errors fail the
// test without touching the warehouse; severity rules still apply.
func (r *Runner) RunAll(ctx context.Context, model *contracts.ModelDefinition) []Result {
	results := make([]Result, 0, len(model.Tests))
	for _, def := range model.Tests {
		res := Result{ModelName: model.Name, Test: def}
		sqlText, err := GenerateSQL(model.Name, def)
		if err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}
		res.SQL = sqlText
		scalar, err := r.querier.QueryScalar(ctx, sqlText)
		if err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}
		res.Scalar = scalar
		res.Passed = scalar == 0
		results = append(results, res)
	}
	return results
}
