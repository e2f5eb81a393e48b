package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/deepnoodle-ai/codeflow"
	"github.com/deepnoodle-ai/codeflow/agents"
	"github.com/fatih/color"
)

// CLI configuration
type Config struct {
	Goal      string
	Workspace string
	Resume    string
	Approve   string
	Deny      string
	List      bool
	DBPath    string
	Postgres  string
	Model     string
	APIKey    string
	Timeout   time.Duration
	Verbose   bool
}

func main() {
	config := parseFlags()
	logger := setupLogger(config.Verbose)

	store, checkpointer, closeStore, err := openStore(config)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	client := agents.NewClient(agents.ClientOptions{
		APIKey: config.APIKey,
		Model:  config.Model,
	})

	orchestrator, err := codeflow.NewOrchestrator(codeflow.OrchestratorOptions{
		Workflows:    store,
		Checkpointer: checkpointer,
		Emitter:      codeflow.NewLogEmitter(logger),
		Logger:       logger,
		Collaborators: codeflow.Collaborators{
			Planner:   agents.NewPlanner(client),
			Producer:  agents.NewProducer(client),
			Reviewer:  agents.NewReviewer(client),
			Committer: codeflow.NewGitCommitter(),
		},
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	// Reconcile records left behind by a previous process before doing
	// anything else.
	if err := orchestrator.RecoverInterrupted(ctx); err != nil {
		log.Fatalf("Recovery failed: %v", err)
	}

	switch {
	case config.List:
		listWorkflows(ctx, store)
	case config.Approve != "":
		decide(ctx, orchestrator, config.Approve, true)
		orchestrator.Wait()
	case config.Deny != "":
		decide(ctx, orchestrator, config.Deny, false)
		orchestrator.Wait()
	case config.Resume != "":
		color.Blue("Resuming workflow %s", config.Resume)
		if err := orchestrator.Resume(ctx, config.Resume); err != nil {
			log.Fatalf("Failed to resume workflow: %v", err)
		}
		orchestrator.Wait()
		showResult(ctx, store, config.Resume)
	case config.Goal != "":
		workspace := config.Workspace
		if workspace == "" {
			workspace = "."
		}
		workspace, err := filepath.Abs(workspace)
		if err != nil {
			log.Fatalf("Failed to resolve workspace: %v", err)
		}
		record, err := orchestrator.StartWorkflow(ctx, config.Goal, workspace)
		if err != nil {
			log.Fatalf("Failed to start workflow: %v", err)
		}
		color.Green("Started workflow %s", record.ID)
		color.White("Workspace: %s", workspace)
		orchestrator.Wait()
		showResult(ctx, store, record.ID)
	default:
		color.Red("Error: one of -goal, -resume, -approve, -deny, or -list is required")
		flag.Usage()
		os.Exit(1)
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.Goal, "goal", "", "Goal for a new workflow")
	flag.StringVar(&config.Goal, "g", "", "Goal for a new workflow (shorthand)")
	flag.StringVar(&config.Workspace, "workspace", "", "Target workspace directory (default: current directory)")
	flag.StringVar(&config.Workspace, "w", "", "Target workspace directory (shorthand)")
	flag.StringVar(&config.Resume, "resume", "", "Resume a failed workflow by ID")
	flag.StringVar(&config.Approve, "approve", "", "Approve a blocked workflow by ID")
	flag.StringVar(&config.Deny, "deny", "", "Deny a blocked workflow by ID")
	flag.BoolVar(&config.List, "list", false, "List workflows and exit")
	flag.StringVar(&config.DBPath, "db", "", "SQLite database path (default: ~/.codeflow/codeflow.db)")
	flag.StringVar(&config.Postgres, "postgres", "", "PostgreSQL DSN (overrides -db)")
	flag.StringVar(&config.Model, "model", "", "Model to use for all agents")
	flag.StringVar(&config.APIKey, "api-key", "", "Anthropic API key (default: ANTHROPIC_API_KEY)")
	flag.DurationVar(&config.Timeout, "timeout", 0, "Overall timeout (e.g., 30m, 2h)")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Codeflow - goal-driven code production workflows

Usage: %s [options]

Examples:
  # Start a new workflow in the current directory
  %s -goal "Add input validation to the signup form"

  # Approve a workflow waiting at the approval gate
  %s -approve wf_01h2xcejqtf2nbrexx3vqjhp41

  # Resume a failed workflow from its last checkpoint
  %s -resume wf_01h2xcejqtf2nbrexx3vqjhp41

  # List all workflows
  %s -list

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return config
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return codeflow.NewLogger(level)
}

// openStore returns the workflow store and checkpointer. Both are backed by
// the same database.
func openStore(config *Config) (codeflow.WorkflowStore, codeflow.Checkpointer, func(), error) {
	if config.Postgres != "" {
		store, err := codeflow.NewPostgresStore(config.Postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, func() { _ = store.Close() }, nil
	}

	path := config.DBPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, nil, err
		}
		dir := filepath.Join(home, ".codeflow")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, nil, err
		}
		path = filepath.Join(dir, "codeflow.db")
	}
	store, err := codeflow.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, store, func() { _ = store.Close() }, nil
}

func decide(ctx context.Context, orchestrator *codeflow.Orchestrator, id string, approved bool) {
	if approved {
		color.Green("Approving workflow %s", id)
	} else {
		color.Yellow("Denying workflow %s", id)
	}
	if err := orchestrator.SupplyApproval(ctx, id, approved); err != nil {
		log.Fatalf("Failed to record decision: %v", err)
	}
}

func listWorkflows(ctx context.Context, store codeflow.WorkflowStore) {
	records, err := store.ListWorkflows(ctx)
	if err != nil {
		log.Fatalf("Failed to list workflows: %v", err)
	}
	if len(records) == 0 {
		color.Blue("No workflows")
		return
	}
	for _, record := range records {
		line := fmt.Sprintf("%s  %-12s  %s", record.ID, record.Status, record.Goal)
		switch record.Status {
		case codeflow.WorkflowStatusCompleted:
			color.Green("%s", line)
		case codeflow.WorkflowStatusFailed:
			color.Red("%s (reason: %s, recoverable: %t)", line, record.FailureReason, record.Recoverable)
		case codeflow.WorkflowStatusBlocked:
			color.Yellow("%s (awaiting approval)", line)
		default:
			color.White("%s", line)
		}
	}
}

func showResult(ctx context.Context, store codeflow.WorkflowStore, id string) {
	record, err := store.GetWorkflow(ctx, id)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}
	switch record.Status {
	case codeflow.WorkflowStatusCompleted:
		color.Green("Workflow %s completed", id)
	case codeflow.WorkflowStatusBlocked:
		color.Yellow("Workflow %s is waiting for approval", id)
		color.White("Approve with: %s -approve %s", os.Args[0], id)
		color.White("Deny with:    %s -deny %s", os.Args[0], id)
	case codeflow.WorkflowStatusFailed:
		color.Red("Workflow %s failed: %s", id, record.FailureReason)
		if record.Recoverable {
			color.White("Resume with: %s -resume %s", os.Args[0], id)
		}
		os.Exit(1)
	default:
		color.White("Workflow %s is %s", id, record.Status)
	}
}
