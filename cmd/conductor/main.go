package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/deepnoodle-ai/conductor"
	"github.com/deepnoodle-ai/conductor/executors"
	"github.com/fatih/color"
	_ "github.com/lib/pq"
)

// CLI configuration
type Config struct {
	WorkflowFile string
	ExecutionID  string
	StepID       string
	Inputs       map[string]interface{}
	DatabaseURL  string
	DataDir      string
	LogsDir      string
	Timeout      time.Duration
	Verbose      bool
	JSON         bool
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	command := os.Args[1]
	config := parseFlags(os.Args[2:])

	logger := setupLogger(config.Verbose)
	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	store := setupStore(ctx, config)
	orchestrator, err := conductor.NewOrchestrator(conductor.OrchestratorOptions{
		Store:       store,
		Definitions: setupDefinitions(config),
		Executors:   executors.Defaults(),
		Logger:      logger,
		StepLogger:  setupStepLogger(config),
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	switch command {
	case "run":
		runWorkflow(ctx, orchestrator, config)
	case "resume":
		resumeExecution(ctx, orchestrator, config)
	case "fork":
		forkExecution(ctx, orchestrator, config)
	case "list":
		listExecutions(ctx, orchestrator, config)
	default:
		color.Red("Unknown command: %s", command)
		usage()
		os.Exit(1)
	}
}

func runWorkflow(ctx context.Context, orchestrator *conductor.Orchestrator, config *Config) {
	if config.WorkflowFile == "" {
		color.Red("Error: workflow file is required")
		os.Exit(1)
	}
	if _, err := os.Stat(config.WorkflowFile); os.IsNotExist(err) {
		color.Red("Error: workflow file '%s' not found", config.WorkflowFile)
		os.Exit(1)
	}

	color.Blue("Loading workflow from: %s", config.WorkflowFile)
	definition, err := conductor.LoadFile(config.WorkflowFile)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}
	color.Cyan("Workflow: %s", definition.Name())
	if definition.Description() != "" {
		color.White("Description: %s", definition.Description())
	}

	startTime := time.Now()
	execution, err := orchestrator.Execute(ctx, conductor.ExecuteOptions{
		Definition: definition,
		Input:      config.Inputs,
	})
	showResults(execution, err, time.Since(startTime), config)
}

func resumeExecution(ctx context.Context, orchestrator *conductor.Orchestrator, config *Config) {
	if config.ExecutionID == "" {
		color.Red("Error: -execution is required")
		os.Exit(1)
	}

	startTime := time.Now()
	execution, err := orchestrator.Resume(ctx, conductor.ResumeOptions{
		ExecutionID: config.ExecutionID,
		Input:       config.Inputs,
	})
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	orchestrator.Wait()
	showResults(execution, nil, time.Since(startTime), config)
}

func forkExecution(ctx context.Context, orchestrator *conductor.Orchestrator, config *Config) {
	if config.ExecutionID == "" || config.StepID == "" {
		color.Red("Error: -execution and -step are required")
		os.Exit(1)
	}

	startTime := time.Now()
	execution, err := orchestrator.Fork(ctx, conductor.ForkOptions{
		ExecutionID: config.ExecutionID,
		StepID:      config.StepID,
		Overrides:   config.Inputs,
	})
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	color.Green("Forked execution: %s", execution.ID())
	orchestrator.Wait()
	showResults(execution, nil, time.Since(startTime), config)
}

func listExecutions(ctx context.Context, orchestrator *conductor.Orchestrator, config *Config) {
	summaries, err := orchestrator.ListExecutions(ctx)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	if config.JSON {
		data, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			log.Fatalf("Failed to format executions: %v", err)
		}
		fmt.Println(string(data))
		return
	}
	for _, summary := range summaries {
		statusColor := color.New(color.FgWhite)
		switch summary.Status {
		case conductor.ExecutionStatusCompleted:
			statusColor = color.New(color.FgGreen)
		case conductor.ExecutionStatusFailed:
			statusColor = color.New(color.FgRed)
		case conductor.ExecutionStatusRunning:
			statusColor = color.New(color.FgCyan)
		}
		fmt.Printf("%s  %s  %s  %s\n",
			summary.ExecutionID,
			summary.WorkflowID,
			statusColor.Sprint(summary.Status),
			summary.UpdatedAt.Format(time.RFC3339))
	}
}

// setupDefinitions builds a definition provider from the -file flag so
// resume and fork can resolve the workflow by ID. Without a file the
// provider is empty; run passes its definition directly.
func setupDefinitions(config *Config) conductor.DefinitionProvider {
	if config.WorkflowFile == "" {
		return conductor.NewMemoryDefinitionProvider()
	}
	definition, err := conductor.LoadFile(config.WorkflowFile)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}
	return conductor.NewMemoryDefinitionProvider(definition)
}

func parseFlags(args []string) *Config {
	config := &Config{
		Inputs: make(map[string]interface{}),
	}
	fs := flag.NewFlagSet("conductor", flag.ExitOnError)

	fs.StringVar(&config.WorkflowFile, "file", "", "Path to the YAML workflow definition file")
	fs.StringVar(&config.WorkflowFile, "f", "", "Path to the YAML workflow definition file (shorthand)")
	fs.StringVar(&config.ExecutionID, "execution", "", "Execution ID for resume and fork")
	fs.StringVar(&config.StepID, "step", "", "Step ID for fork")

	var inputFlags stringSlice
	fs.Var(&inputFlags, "input", "Input parameter in format key=value (can be used multiple times)")
	fs.Var(&inputFlags, "i", "Input parameter in format key=value (shorthand)")

	fs.StringVar(&config.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (optional)")
	fs.StringVar(&config.DataDir, "data", "", "Directory to store execution state (optional)")
	fs.StringVar(&config.LogsDir, "logs", "", "Directory to store step logs (optional)")
	fs.DurationVar(&config.Timeout, "timeout", 0, "Execution timeout (e.g., 30s, 5m, 1h)")
	fs.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")
	fs.BoolVar(&config.JSON, "json", false, "Output results in JSON format")

	fs.Parse(args)

	for _, input := range inputFlags {
		parts := strings.SplitN(input, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: invalid input format '%s'. Use key=value\n", input)
			os.Exit(1)
		}
		key, value := parts[0], parts[1]

		// Try to parse as JSON, fallback to string
		var parsedValue interface{}
		if err := json.Unmarshal([]byte(value), &parsedValue); err != nil {
			parsedValue = value
		}
		config.Inputs[key] = parsedValue
	}

	return config
}

// Custom flag type for handling multiple input values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func setupLogger(verbose bool) *slog.Logger {
	if verbose {
		return conductor.NewLogger()
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func setupStore(ctx context.Context, config *Config) conductor.Store {
	if config.DatabaseURL != "" {
		db, err := sql.Open("postgres", config.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		store, err := conductor.NewPostgresStore(ctx, db)
		if err != nil {
			log.Fatalf("Failed to set up database: %v", err)
		}
		color.Blue("Store: postgres")
		return store
	}
	store, err := conductor.NewFileStore(config.DataDir)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func setupStepLogger(config *Config) conductor.StepLogger {
	if config.LogsDir != "" {
		color.Blue("Step logs: %s", config.LogsDir)
		return conductor.NewFileStepLogger(config.LogsDir)
	}
	return conductor.NewNullStepLogger()
}

func showResults(execution *conductor.ExecutionContext, err error, duration time.Duration, config *Config) {
	color.White("Execution finished in %v", duration)
	if execution != nil {
		color.White("Execution ID: %s", execution.ID())
		color.White("Status: %s", execution.Status())
	}
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	color.Green("Execution successful!")

	if execution == nil {
		return
	}
	results := execution.Results()
	if len(results) == 0 {
		return
	}
	fmt.Printf("\n")
	color.Magenta("Results:")
	if config.JSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			fmt.Printf("Error formatting results: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	for key, value := range results {
		if data, err := json.Marshal(value); err == nil {
			fmt.Printf("  %s: %s\n", key, string(data))
		} else {
			fmt.Printf("  %s: %v\n", key, value)
		}
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Conductor - durable workflow execution

Usage: %s <command> [options]

Commands:
  run     Execute a workflow from a YAML file
  resume  Resume a dormant or paused execution
  fork    Fork an execution from a historical snapshot
  list    List persisted executions

Examples:
  # Execute a workflow
  %s run -file workflow.yaml -input name=John

  # Resume an execution after a restart
  %s resume -file workflow.yaml -execution exec_01h9...

  # Fork an execution at a step with overridden state
  %s fork -file workflow.yaml -execution exec_01h9... -step validate -input retries=3

State is stored in the local filesystem by default; pass -database-url (or
set DATABASE_URL) to use PostgreSQL.
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}
