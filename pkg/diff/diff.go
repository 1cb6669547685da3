// Package diff classifies model changes between two content-addressed
// snapshots. Output lists are sorted and timestamp-free so the result
// feeds directly into deterministic plan generation.
package diff

import (
	"sort"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/sqlnorm"
)

// SQLLookup resolves a model's raw SQL at a given revision. It is used
// for cosmetic-change detection and may be nil, in which case every
// hash difference is treated as a real modification (conservative
// over-planning, never under-planning).
type SQLLookup func(model string) (sql string, ok bool)

// Compute compares base and target version maps (model → content hash)
// and returns sorted added/removed/modified lists. When both lookups
// are provided, modifications whose SQL differs only in whitespace or
// comments are moved to the cosmetic list instead.
func Compute(baseVersions, targetVersions map[string]string, baseSQL, targetSQL SQLLookup) contracts.DiffResult {
	var result contracts.DiffResult

	for name, targetHash := range targetVersions {
		baseHash, inBase := baseVersions[name]
		switch {
		case !inBase:
			result.AddedModels = append(result.AddedModels, name)
		case baseHash != targetHash:
			if isCosmetic(name, baseSQL, targetSQL) {
				result.CosmeticSkipped = append(result.CosmeticSkipped, name)
			} else {
				result.ModifiedModels = append(result.ModifiedModels, name)
			}
		}
	}
	for name := range baseVersions {
		if _, inTarget := targetVersions[name]; !inTarget {
			result.RemovedModels = append(result.RemovedModels, name)
		}
	}

	sort.Strings(result.AddedModels)
	sort.Strings(result.RemovedModels)
	sort.Strings(result.ModifiedModels)
	sort.Strings(result.CosmeticSkipped)
	return result
}

func isCosmetic(name string, baseSQL, targetSQL SQLLookup) bool {
	if baseSQL == nil || targetSQL == nil {
		return false
	}
	before, okB := baseSQL(name)
	after, okT := targetSQL(name)
	if !okB || !okT {
		return false
	}
	return sqlnorm.IsCosmeticChange(before, after)
}
