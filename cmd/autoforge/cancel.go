package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autoforge/autoforge/internal/state"
	"github.com/autoforge/autoforge/pkg/models"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <project-id>",
	Short: "Cancel a project",
	Long: `Mark a project and its unfinished tasks as cancelled.

A running 'autoforge run' aborts on interrupt; cancel is for projects
left in a non-terminal state by a crashed or killed run.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	store, err := state.Open(state.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	project, err := resolveProject(store, args[0])
	if err != nil {
		return err
	}
	if project.Status.Terminal() {
		return fmt.Errorf("project %s already %s", project.Name, project.Status)
	}

	now := time.Now()
	tasks, err := store.ListTasks(project.ID)
	if err != nil {
		return err
	}
	var cancelled int
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		t.Status = models.TaskStatusFailed
		t.FailureReason = "cancelled"
		t.CompletedAt = &now
		if err := store.UpdateTask(t); err != nil {
			return err
		}
		cancelled++
	}

	project.Status = models.ProjectStatusFailed
	project.CompletedAt = &now
	if err := store.UpdateProject(project); err != nil {
		return err
	}
	if _, err := store.RecomputeProgress(project.ID); err != nil {
		return err
	}

	fmt.Printf("Cancelled %s (%d unfinished tasks)\n", project.Name, cancelled)
	return nil
}
