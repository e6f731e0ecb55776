package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/autoforge/autoforge/internal/state"
	"github.com/autoforge/autoforge/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Show project and task state",
	Long: `Show persisted project state.

Without arguments, lists every known project. With a project ID,
shows its tasks and any failure detail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := state.Open(state.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	if len(args) == 0 {
		return listProjects(store)
	}
	return showProject(store, args[0])
}

func listProjects(store state.Store) error {
	projects, err := store.ListProjects()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects yet. Start one with 'autoforge run'.")
		return nil
	}

	fmt.Printf("%-10s %-24s %-10s %-9s %s\n", "ID", "NAME", "STATUS", "PROGRESS", "CREATED")
	for _, p := range projects {
		fmt.Printf("%-10s %-24s %-19s %-9s %s\n",
			shortID(p.ID), p.Name, statusColor(p.Status),
			progressLabel(p.Progress), p.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func showProject(store state.Store, id string) error {
	project, err := resolveProject(store, id)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", color.CyanString(project.Name), project.ID)
	fmt.Printf("  %s\n", project.Description)
	fmt.Printf("  status: %s  progress: %s\n", statusColor(project.Status), progressLabel(project.Progress))
	if project.CompletedAt != nil {
		fmt.Printf("  finished: %s\n", project.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	tasks, err := store.ListTasks(project.ID)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		fmt.Println("\nTasks:")
		for _, t := range tasks {
			fmt.Printf("  %s %-9s %s\n", shortID(t.ID), taskStatusColor(t.Status), label(t))
		}
	}

	failures, err := store.FailureDetail(project.ID)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		fmt.Println("\nFailures:")
		for _, f := range failures {
			fmt.Printf("  %s %s (%s, %d attempts)", color.RedString("✗"), shortID(f.TaskID), f.Reason, f.Attempts)
			if f.Error != "" {
				fmt.Printf(": %s", f.Error)
			}
			fmt.Println()
		}
	}
	return nil
}

// resolveProject accepts a full ID or an unambiguous prefix.
func resolveProject(store state.Store, id string) (*models.Project, error) {
	if p, err := store.GetProject(id); err == nil {
		return p, nil
	}

	projects, err := store.ListProjects()
	if err != nil {
		return nil, err
	}
	var match *models.Project
	for _, p := range projects {
		if len(id) > 0 && len(p.ID) >= len(id) && p.ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("project id %q is ambiguous", id)
			}
			match = p
		}
	}
	if match == nil {
		return nil, fmt.Errorf("project %q not found", id)
	}
	return match, nil
}

func taskStatusColor(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusFailed:
		return color.RedString(string(s))
	case models.TaskStatusRunning:
		return color.BlueString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func label(t *models.Task) string {
	desc := t.Description
	if len(desc) > 60 {
		desc = desc[:57] + "..."
	}
	return fmt.Sprintf("[%s] %s", t.Kind, desc)
}
