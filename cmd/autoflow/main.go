// Command autoflow runs workflow plans through the orchestration core.
//
// Usage:
//
//	autoflow run --plan plan.yaml            # create and execute a workflow
//	autoflow status --workflow wf-...        # show workflow state
//	autoflow checkpoints --workflow wf-...   # list checkpoints
//	autoflow rollback --workflow wf-... --checkpoint cp-...
//	autoflow version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pwi-labs/autoflow"
	"github.com/pwi-labs/autoflow/engine"
	"github.com/pwi-labs/autoflow/types"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "checkpoints":
		runCheckpoints(os.Args[2:])
	case "rollback":
		runRollback(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// planFile is the on-disk YAML shape of a workflow plan.
type planFile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Mode        string `yaml:"mode"`
	Tasks       []struct {
		ID            string   `yaml:"id"`
		Title         string   `yaml:"title"`
		Priority      string   `yaml:"priority"`
		Size          string   `yaml:"size"`
		DependsOn     []string `yaml:"depends_on"`
		MaxRetries    int      `yaml:"max_retries"`
		EstimatedCost float64  `yaml:"estimated_cost"`
	} `yaml:"tasks"`
}

func loadPlan(path string) (*planFile, *types.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read plan file: %w", err)
	}
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, nil, fmt.Errorf("parse plan file: %w", err)
	}
	plan := &types.Plan{}
	for _, t := range pf.Tasks {
		plan.Tasks = append(plan.Tasks, &types.Task{
			ID:            t.ID,
			Title:         t.Title,
			Priority:      types.TaskPriority(t.Priority),
			Size:          types.TaskSize(t.Size),
			DependsOn:     t.DependsOn,
			MaxRetries:    t.MaxRetries,
			EstimatedCost: t.EstimatedCost,
		})
	}
	return &pf, plan, nil
}

func openSystem(configPath string) *autoflow.System {
	sys, err := autoflow.Open(autoflow.WithConfigFile(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return sys
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	planPath := fs.String("plan", "", "Path to plan file (required)")
	mode := fs.String("mode", "", "Execution mode override")
	fs.Parse(args)

	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "run: --plan is required")
		os.Exit(1)
	}

	pf, plan, err := loadPlan(*planPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	sys := openSystem(*configPath)
	defer sys.Close()

	execMode := pf.Mode
	if *mode != "" {
		execMode = *mode
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wf, err := sys.Engine.Create(ctx, engine.CreateInput{
		Name:        pf.Name,
		Description: pf.Description,
		Mode:        types.ExecutionMode(execMode),
		Plan:        plan,
	})
	if err != nil {
		sys.Logger.Fatal("create workflow failed", zap.Error(err))
	}
	fmt.Printf("Created workflow %s (%d tasks)\n", wf.ID, len(wf.Plan.Tasks))

	if err := sys.Engine.Execute(ctx, wf.ID); err != nil {
		sys.Logger.Fatal("execution failed", zap.String("workflow_id", wf.ID), zap.Error(err))
	}

	final, err := sys.Engine.GetWorkflow(context.Background(), wf.ID)
	if err != nil {
		sys.Logger.Fatal("load workflow failed", zap.Error(err))
	}
	printWorkflow(final)
	if final.Status != types.WorkflowCompleted {
		os.Exit(1)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowID := fs.String("workflow", "", "Workflow id (required)")
	fs.Parse(args)

	if *workflowID == "" {
		fmt.Fprintln(os.Stderr, "status: --workflow is required")
		os.Exit(1)
	}

	sys := openSystem(*configPath)
	defer sys.Close()

	wf, err := sys.Engine.GetWorkflow(context.Background(), *workflowID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	printWorkflow(wf)
}

func runCheckpoints(args []string) {
	fs := flag.NewFlagSet("checkpoints", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowID := fs.String("workflow", "", "Workflow id (required)")
	fs.Parse(args)

	if *workflowID == "" {
		fmt.Fprintln(os.Stderr, "checkpoints: --workflow is required")
		os.Exit(1)
	}

	sys := openSystem(*configPath)
	defer sys.Close()

	summaries, err := sys.Checkpoints.List(context.Background(), *workflowID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if len(summaries) == 0 {
		fmt.Println("No checkpoints")
		return
	}
	for _, s := range summaries {
		rollback := " "
		if s.CanRollback {
			rollback = "*"
		}
		fmt.Printf("%s %s  %s  %d completed  %s\n",
			rollback, s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Completed, s.Description)
	}
}

func runRollback(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowID := fs.String("workflow", "", "Workflow id (required)")
	checkpointID := fs.String("checkpoint", "", "Checkpoint id (required)")
	fs.Parse(args)

	if *workflowID == "" || *checkpointID == "" {
		fmt.Fprintln(os.Stderr, "rollback: --workflow and --checkpoint are required")
		os.Exit(1)
	}

	sys := openSystem(*configPath)
	defer sys.Close()

	result, err := sys.Engine.Rollback(context.Background(), *workflowID, *checkpointID)
	if err != nil {
		if result != nil {
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "error: %s\n", e)
			}
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Printf("Rolled back %s to %s\n", *workflowID, *checkpointID)
}

func printWorkflow(wf *types.Workflow) {
	fmt.Printf("Workflow %s: %s\n", wf.ID, wf.Status)
	if wf.Error != "" {
		fmt.Printf("  error: %s\n", wf.Error)
	}
	for _, t := range wf.Plan.Tasks {
		fmt.Printf("  [%-11s] %s  %s\n", t.Status, t.ID, t.Title)
	}
	fmt.Printf("  cost: $%.2f  api calls: %d  checkpoints: %d\n",
		wf.Resources.CostUSD, wf.Resources.APICalls, len(wf.CheckpointIDs))
}

func printVersion() {
	fmt.Printf("autoflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`autoflow - autonomous workflow orchestration

Usage:
  autoflow run --plan plan.yaml [--config autoflow.yaml] [--mode supervised]
  autoflow status --workflow <id>
  autoflow checkpoints --workflow <id>
  autoflow rollback --workflow <id> --checkpoint <id>
  autoflow version`)
}
