package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/autoforge/autoforge/internal/capability"
	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/inference"
	"github.com/autoforge/autoforge/internal/logging"
	"github.com/autoforge/autoforge/internal/orchestrator"
	"github.com/autoforge/autoforge/internal/retrieval"
	"github.com/autoforge/autoforge/internal/scaffold"
	"github.com/autoforge/autoforge/internal/state"
	"github.com/autoforge/autoforge/pkg/models"
)

var (
	runName      string
	runOutput    string
	runFramework string
	runTemplates string
	runVerbose   bool
)

var runCmd = &cobra.Command{
	Use:   "run <description>",
	Short: "Generate a project from a description",
	Long: `Run the full generation pipeline for a project description.

The description is planned into components, each component becomes a
development task with a paired test task, and the resulting dependency
graph executes against the configured inference endpoint. Progress is
streamed to the terminal and all state is persisted for later
inspection with 'autoforge status'.

Examples:
  autoforge run "REST API for a book library"
  autoforge run --name books --output ./work "REST API for a book library"
  autoforge run --framework gin "REST API for a book library"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProject,
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "Project name (derived from the description if empty)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", ".", "Directory the project is generated under")
	runCmd.Flags().StringVar(&runFramework, "framework", "", "Preferred framework for generated code")
	runCmd.Flags().StringVar(&runTemplates, "templates", "", "Directory of scaffold template manifests")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
}

func runProject(cmd *cobra.Command, args []string) error {
	description := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if runVerbose {
		level = "debug"
	}
	log := logging.New(logging.Options{Level: level, File: cfg.Logging.File, Console: true})

	store, err := state.Open(state.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := buildClient(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	name := runName
	if name == "" {
		name = slugify(description)
	}

	params := models.GenerationParams{
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		TopP:        cfg.Generation.TopP,
	}

	projectDir, err := scaffoldProject(ctx, client, params, cfg, log, name, description)
	if err != nil {
		return err
	}

	corpus := retrieval.NewCorpus()
	watcher, err := retrieval.NewWatcher(corpus, projectDir, log)
	if err != nil {
		log.Warn().Err(err).Msg("corpus watcher unavailable, context will not track generated files")
	} else {
		defer watcher.Close()
	}
	engine := retrieval.NewEngine(corpus, cfg.Retrieval, log)

	registry := capability.DefaultRegistry(params, projectDir)

	orch := orchestrator.New(
		orchestrator.RequiredConfig{Client: client, Registry: registry, Store: store},
		orchestrator.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent),
		orchestrator.WithMaxRetries(cfg.Scheduler.MaxRetries),
		orchestrator.WithBackoff(cfg.Scheduler.BackoffBase, cfg.Scheduler.BackoffCap),
		orchestrator.WithPark(cfg.Scheduler.MaxPark, cfg.Scheduler.ProbeInterval),
		orchestrator.WithRequestTimeout(cfg.Inference.Timeout),
		orchestrator.WithSelector(engine),
		orchestrator.WithLogger(log),
	)

	now := time.Now()
	project := &models.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Framework:   runFramework,
		Status:      models.ProjectStatusPlanning,
		CreatedAt:   now,
	}
	seed := &models.Task{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		Kind:        models.KindPlan,
		Description: description,
		Status:      models.TaskStatusPending,
		CreatedAt:   now,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(orch.Events())
	}()

	fmt.Printf("Generating %s into %s\n\n", color.CyanString(name), projectDir)

	runErr := orch.Run(ctx, project, []*models.Task{seed})
	<-done

	printSummary(store, project.ID)
	return runErr
}

// buildClient connects to the edge endpoint, falling back to the cloud
// provider when the edge is unreachable and a fallback is configured.
func buildClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (inference.Client, error) {
	edge := inference.NewEdgeClient(cfg.Inference.Endpoint,
		inference.WithReconnect(cfg.Inference.ReconnectRetries, cfg.Inference.ReconnectDelay),
		inference.WithLogger(log),
	)

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if edge.Probe(probeCtx) {
		return edge, nil
	}

	fb := cfg.Inference.Fallback
	if !fb.Enabled {
		// Let the scheduler park work until the edge comes back.
		log.Warn().Str("endpoint", cfg.Inference.Endpoint).Msg("edge endpoint unreachable, tasks will park until it recovers")
		return edge, nil
	}

	edge.Close()
	key := fb.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	cloud, err := inference.NewAnthropicClient(key, fb.Model, log)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	log.Info().Str("model", fb.Model).Msg("edge endpoint unreachable, using cloud fallback")
	return cloud, nil
}

// scaffoldProject lays down the project directory and best-effort core
// files before the task graph starts filling it in.
func scaffoldProject(ctx context.Context, client inference.Client, params models.GenerationParams, cfg *config.Config, log zerolog.Logger, name, description string) (string, error) {
	var templates *scaffold.TemplateStore
	if runTemplates != "" {
		store, err := scaffold.LoadTemplates(runTemplates)
		if err != nil {
			return "", fmt.Errorf("load templates: %w", err)
		}
		templates = store
	}

	sc := scaffold.New(client, templates, params, cfg.Inference.Timeout, log)
	return sc.Create(ctx, runOutput, scaffold.ProjectConfig{
		Name:        name,
		Description: description,
		Framework:   runFramework,
	})
}

func printEvents(events <-chan orchestrator.Event) {
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventTaskStarted:
			fmt.Printf("%s %s\n", color.BlueString("▶"), ev.Message)
		case orchestrator.EventTaskCompleted:
			fmt.Printf("%s %s %s\n", color.GreenString("✓"), ev.Message, progressLabel(ev.Progress))
		case orchestrator.EventTaskFailed:
			fmt.Printf("%s %s: %s\n", color.RedString("✗"), shortID(ev.TaskID), ev.Message)
		case orchestrator.EventTaskRetrying:
			fmt.Printf("%s %s (attempt %d)\n", color.YellowString("↻"), ev.Message, ev.Attempt)
		case orchestrator.EventTaskParked:
			fmt.Printf("%s %s\n", color.YellowString("⏸"), ev.Message)
		case orchestrator.EventTaskCancelled:
			fmt.Printf("%s %s\n", color.YellowString("⨯"), ev.Message)
		case orchestrator.EventProjectDone:
			fmt.Printf("\n%s\n", ev.Message)
		}
	}
}

func printSummary(store state.Store, projectID string) {
	project, err := store.GetProject(projectID)
	if err != nil {
		return
	}

	fmt.Printf("Project %s: %s (%s)\n", project.Name, statusColor(project.Status), progressLabel(project.Progress))
	if project.Status != models.ProjectStatusFailed {
		return
	}

	failures, err := store.FailureDetail(projectID)
	if err != nil || len(failures) == 0 {
		return
	}
	fmt.Println("\nFailures:")
	for _, f := range failures {
		fmt.Printf("  %s %s (%s, %d attempts)", color.RedString("✗"), f.TaskID, f.Reason, f.Attempts)
		if f.Error != "" {
			fmt.Printf(": %s", f.Error)
		}
		fmt.Println()
	}
}

func statusColor(s models.ProjectStatus) string {
	switch s {
	case models.ProjectStatusCompleted:
		return color.GreenString(string(s))
	case models.ProjectStatusFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func progressLabel(p float64) string {
	return fmt.Sprintf("%.0f%%", p*100)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// slugify derives a filesystem-friendly project name from a description.
func slugify(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) > 4 {
		fields = fields[:4]
	}
	slug := strings.Join(fields, "-")
	var b strings.Builder
	for _, r := range slug {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "project"
	}
	return out
}
