package engine

import (
	"strings"

	"github.com/pwi-labs/autoflow/types"
)

// keywordRule maps title substrings to a classification target. Rules are
// evaluated in order; the first match wins.
type keywordRule[T ~string] struct {
	keywords []string
	target   T
}

// Classifier derives the target agent type and approval category of a task
// from its title (and priority). The keyword tables are injectable so the
// heuristic can be replaced without touching the state machine.
type Classifier struct {
	agentRules    []keywordRule[types.AgentType]
	categoryRules []keywordRule[types.ApprovalCategory]
}

// NewClassifier creates a classifier with the default keyword tables.
func NewClassifier() *Classifier {
	return &Classifier{
		agentRules: []keywordRule[types.AgentType]{
			{keywords: []string{"deploy", "release", "rollout"}, target: types.AgentDeployer},
			{keywords: []string{"test", "verify", "validate", "qa"}, target: types.AgentTester},
			{keywords: []string{"review", "audit"}, target: types.AgentReviewer},
			{keywords: []string{"plan", "design", "spec"}, target: types.AgentPlanner},
		},
		categoryRules: []keywordRule[types.ApprovalCategory]{
			{keywords: []string{"delete", "remove", "drop", "destroy", "wipe", "truncate"}, target: types.CategoryDestructive},
			{keywords: []string{"test", "verify", "validate", "qa"}, target: types.CategoryTesting},
		},
	}
}

// WithAgentRule prepends a custom agent-type rule.
func (c *Classifier) WithAgentRule(target types.AgentType, keywords ...string) *Classifier {
	c.agentRules = append([]keywordRule[types.AgentType]{{keywords: keywords, target: target}}, c.agentRules...)
	return c
}

// WithCategoryRule prepends a custom approval-category rule.
func (c *Classifier) WithCategoryRule(target types.ApprovalCategory, keywords ...string) *Classifier {
	c.categoryRules = append([]keywordRule[types.ApprovalCategory]{{keywords: keywords, target: target}}, c.categoryRules...)
	return c
}

// AgentType resolves the worker type responsible for a task. Unmatched
// titles default to developer.
func (c *Classifier) AgentType(task *types.Task) types.AgentType {
	title := strings.ToLower(task.Title)
	for _, rule := range c.agentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(title, kw) {
				return rule.target
			}
		}
	}
	return types.AgentDeveloper
}

// ApprovalCategory classifies a task for approval gating. Deployments are
// split into prod and non-prod by a second title scan; critical-priority
// tasks without a more specific match count as destructive. Everything
// else is planning.
func (c *Classifier) ApprovalCategory(task *types.Task) types.ApprovalCategory {
	title := strings.ToLower(task.Title)

	if strings.Contains(title, "deploy") || strings.Contains(title, "release") || strings.Contains(title, "rollout") {
		if strings.Contains(title, "prod") || strings.Contains(title, "production") || strings.Contains(title, "live") {
			return types.CategoryProdDeployment
		}
		return types.CategoryNonProdDeployment
	}

	for _, rule := range c.categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(title, kw) {
				return rule.target
			}
		}
	}

	if task.Priority == types.PriorityCritical {
		return types.CategoryDestructive
	}
	return types.CategoryPlanning
}
