// Package types defines the shared domain model for the autoflow
// orchestration core: tasks, plans, workflows, checkpoints, agent records,
// inter-agent messages, workflow events, and the structured error type used
// across the framework.
package types
