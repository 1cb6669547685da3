package planner

import (
	"encoding/json"
	"fmt"

	"github.com/ironlayer/ironlayer/pkg/canonicalize"
	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// forbiddenKeys are key names that must never appear in plan JSON.
// Their presence would mean wall-clock state leaked into the plan.
var forbiddenKeys = map[string]bool{
	"created_at":   true,
	"generated_at": true,
	"updated_at":   true,
	"timestamp":    true,
}

// Serialize emits the canonical JSON form of a plan: UTF-8, sorted
// keys, no timestamps. serialize → parse → serialize is a fixed point.
func Serialize(plan *contracts.Plan) ([]byte, error) {
	out, err := canonicalize.JCS(plan)
	if err != nil {
		return nil, err
	}
	if err := checkKeys(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Deserialize parses canonical plan JSON.
func Deserialize(data []byte) (*contracts.Plan, error) {
	var plan contracts.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("planner: parse plan: %w", err)
	}
	return &plan, nil
}

// checkKeys walks the JSON tree and rejects forbidden key names.
func checkKeys(data []byte) error {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("planner: reparse for key check: %w", err)
	}
	return walkKeys(tree, "")
}

func walkKeys(node any, path string) error {
	switch t := node.(type) {
	case map[string]any:
		for k, v := range t {
			if forbiddenKeys[k] {
				return fmt.Errorf("planner: forbidden key %q at %s", k, path)
			}
			if err := walkKeys(v, path+"/"+k); err != nil {
				return err
			}
		}
	case []any:
		for i, v := range t {
			if err := walkKeys(v, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
