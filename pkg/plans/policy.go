package plans

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// AutoApprovePolicy evaluates a CEL expression over a plan summary to
// decide whether the plan may skip human review. The expression sees:
//
//	total_steps          int
//	estimated_cost_usd   double
//	breaking_violations  int
//	models_changed       list<string>
//	models_removed       list<string>
//	has_full_refresh     bool
//
// A typical policy: "estimated_cost_usd < 10.0 && breaking_violations
// == 0 && size(models_removed) == 0".
type AutoApprovePolicy struct {
	prg cel.Program
}

// NewAutoApprovePolicy compiles the policy expression. An empty
// expression yields a nil policy, meaning auto-approval is disabled.
func NewAutoApprovePolicy(expr string) (*AutoApprovePolicy, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("total_steps", cel.IntType),
		cel.Variable("estimated_cost_usd", cel.DoubleType),
		cel.Variable("breaking_violations", cel.IntType),
		cel.Variable("models_changed", cel.ListType(cel.StringType)),
		cel.Variable("models_removed", cel.ListType(cel.StringType)),
		cel.Variable("has_full_refresh", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("plans: create policy environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("plans: compile auto-approve policy: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("plans: auto-approve policy must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("plans: build policy program: %w", err)
	}
	return &AutoApprovePolicy{prg: prg}, nil
}

// Evaluate returns the policy verdict for a plan. Evaluation errors
// fail closed: the plan stays subject to human approval.
func (p *AutoApprovePolicy) Evaluate(plan *contracts.Plan) (bool, error) {
	hasFullRefresh := false
	for _, s := range plan.Steps {
		if s.RunType == contracts.RunFullRefresh {
			hasFullRefresh = true
			break
		}
	}
	out, _, err := p.prg.Eval(map[string]any{
		"total_steps":         plan.Summary.TotalSteps,
		"estimated_cost_usd":  plan.Summary.EstimatedCostUSD,
		"breaking_violations": plan.Summary.BreakingContractViolations,
		"models_changed":      plan.Summary.ModelsChanged,
		"models_removed":      plan.Summary.ModelsRemoved,
		"has_full_refresh":    hasFullRefresh,
	})
	if err != nil {
		return false, fmt.Errorf("plans: evaluate auto-approve policy: %w", err)
	}
	verdict, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("plans: policy result is not bool")
	}
	return verdict, nil
}
