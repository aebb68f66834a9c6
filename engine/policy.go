package engine

import (
	"math"

	"github.com/pwi-labs/autoflow/types"
)

// ModePolicy is one point on the approval lattice: the operation
// categories that need human approval in this mode, and the estimated-cost
// ceiling above which approval is forced regardless of category.
type ModePolicy struct {
	// RequireApproval holds the categories gated in this mode
	RequireApproval map[types.ApprovalCategory]bool
	// CostThreshold forces approval for tasks whose estimated cost
	// exceeds it; +Inf disables the cost gate
	CostThreshold float64
}

// PolicyTable maps execution modes to their approval policies.
type PolicyTable map[types.ExecutionMode]ModePolicy

// DefaultPolicies returns the built-in four-mode lattice. The modes form a
// strictly increasing permission ordering: supervised gates everything and
// full-auto gates nothing.
func DefaultPolicies() PolicyTable {
	all := func() map[types.ApprovalCategory]bool {
		m := make(map[types.ApprovalCategory]bool)
		for _, cat := range types.ApprovalCategories() {
			m[cat] = true
		}
		return m
	}
	return PolicyTable{
		types.ModeSupervised: {
			RequireApproval: all(),
			CostThreshold:   0,
		},
		types.ModeAutonomousLow: {
			RequireApproval: map[types.ApprovalCategory]bool{
				types.CategoryDestructive:       true,
				types.CategoryProdDeployment:    true,
				types.CategoryNonProdDeployment: true,
			},
			CostThreshold: 10,
		},
		types.ModeAutonomousHigh: {
			RequireApproval: map[types.ApprovalCategory]bool{
				types.CategoryDestructive:    true,
				types.CategoryProdDeployment: true,
			},
			CostThreshold: 100,
		},
		types.ModeFullAuto: {
			RequireApproval: map[types.ApprovalCategory]bool{},
			CostThreshold:   math.Inf(1),
		},
	}
}

// RequiresApproval reports whether a task of the given category and
// estimated cost needs human approval under the mode. Unknown modes fall
// back to supervised: gate everything.
func (p PolicyTable) RequiresApproval(mode types.ExecutionMode, category types.ApprovalCategory, cost float64) bool {
	policy, ok := p[mode]
	if !ok {
		return true
	}
	if policy.RequireApproval[category] {
		return true
	}
	return cost > policy.CostThreshold
}
