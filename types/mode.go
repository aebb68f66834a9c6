package types

// ExecutionMode names a point on the approval-policy lattice. The four
// built-in modes form a strictly increasing permission ordering:
// supervised requires approval for everything, full-auto for nothing.
type ExecutionMode string

const (
	ModeSupervised     ExecutionMode = "supervised"
	ModeAutonomousLow  ExecutionMode = "autonomous-low"
	ModeAutonomousHigh ExecutionMode = "autonomous-high"
	ModeFullAuto       ExecutionMode = "full-auto"
)

// ExecutionModes lists the built-in modes in increasing permission order.
func ExecutionModes() []ExecutionMode {
	return []ExecutionMode{ModeSupervised, ModeAutonomousLow, ModeAutonomousHigh, ModeFullAuto}
}

// ApprovalCategory classifies an operation for approval gating.
type ApprovalCategory string

const (
	CategoryDestructive       ApprovalCategory = "destructive_operations"
	CategoryProdDeployment    ApprovalCategory = "prod_deployments"
	CategoryNonProdDeployment ApprovalCategory = "nonprod_deployments"
	CategoryTesting           ApprovalCategory = "testing"
	CategoryPlanning          ApprovalCategory = "planning"
)

// ApprovalCategories lists all approval categories.
func ApprovalCategories() []ApprovalCategory {
	return []ApprovalCategory{
		CategoryDestructive,
		CategoryProdDeployment,
		CategoryNonProdDeployment,
		CategoryTesting,
		CategoryPlanning,
	}
}
