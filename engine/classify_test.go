package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pwi-labs/autoflow/types"
)

func TestClassifierAgentType(t *testing.T) {
	c := NewClassifier()

	testCases := []struct {
		title    string
		expected types.AgentType
	}{
		{"Deploy API to staging", types.AgentDeployer},
		{"Release v2.1", types.AgentDeployer},
		{"Run integration tests", types.AgentTester},
		{"Verify migration output", types.AgentTester},
		{"Review pull request", types.AgentReviewer},
		{"Audit access logs", types.AgentReviewer},
		{"Design schema for billing", types.AgentPlanner},
		{"Implement rate limiter", types.AgentDeveloper},
		{"", types.AgentDeveloper},
	}

	for _, tc := range testCases {
		t.Run(tc.title, func(t *testing.T) {
			got := c.AgentType(&types.Task{Title: tc.title})
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestClassifierApprovalCategory(t *testing.T) {
	c := NewClassifier()

	testCases := []struct {
		name     string
		task     types.Task
		expected types.ApprovalCategory
	}{
		{"prod deploy", types.Task{Title: "Deploy to production"}, types.CategoryProdDeployment},
		{"live release", types.Task{Title: "Release to live cluster"}, types.CategoryProdDeployment},
		{"staging deploy", types.Task{Title: "Deploy to staging"}, types.CategoryNonProdDeployment},
		{"delete is destructive", types.Task{Title: "Delete stale branches"}, types.CategoryDestructive},
		{"drop is destructive", types.Task{Title: "Drop unused index"}, types.CategoryDestructive},
		{"test task", types.Task{Title: "Run smoke tests"}, types.CategoryTesting},
		{"critical fallback is destructive", types.Task{Title: "Rotate keys", Priority: types.PriorityCritical}, types.CategoryDestructive},
		{"default is planning", types.Task{Title: "Write docs"}, types.CategoryPlanning},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.ApprovalCategory(&tc.task)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestClassifierCustomRules(t *testing.T) {
	c := NewClassifier().
		WithAgentRule(types.AgentCoordinator, "coordinate").
		WithCategoryRule(types.CategoryDestructive, "purge")

	assert.Equal(t, types.AgentCoordinator, c.AgentType(&types.Task{Title: "Coordinate rollout review"}))
	assert.Equal(t, types.CategoryDestructive, c.ApprovalCategory(&types.Task{Title: "Purge cache"}))
}
