package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/deadmanoz/orchestra/internal/config"
	"github.com/deadmanoz/orchestra/internal/db"
	"github.com/deadmanoz/orchestra/internal/db/repositories"
	"github.com/deadmanoz/orchestra/internal/logging"
	"github.com/deadmanoz/orchestra/internal/services"
	"github.com/deadmanoz/orchestra/pkg/models"
)

var runName string

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run one plan-review workflow from the terminal",
	Long: `Runs a plan-review workflow with the given initial prompt, answering
checkpoints interactively on stdin. Useful for driving the runtime without
an API server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Initialize(cfg.Debug)

		database, err := db.New(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(); err != nil {
			return err
		}

		manager, err := services.NewManager(cfg, repositories.New(database))
		if err != nil {
			return err
		}
		defer manager.Close()

		return runInteractive(cmd.Context(), manager, runName, args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "terminal-workflow", "workflow name")
}

func runInteractive(ctx context.Context, manager *services.Manager, name, prompt string) error {
	wf, err := manager.Create(ctx, name, models.WorkflowTypePlanReview, prompt, "")
	if err != nil {
		return err
	}
	fmt.Printf("workflow %s created\n", wf.ID)

	events := manager.Notifier().Subscribe(wf.ID)
	reader := bufio.NewReader(os.Stdin)

	// The ticker covers checkpoints that landed before the subscription.
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			done, err := settle(ctx, manager, reader, wf.ID)
			if done || err != nil {
				return err
			}
		case event, ok := <-events:
			if !ok {
				return nil
			}

			switch event.Type {
			case models.EventWorkflowCompleted:
				fmt.Println("workflow completed")
				return nil
			case models.EventWorkflowFailed:
				return fmt.Errorf("workflow failed: %s", event.Error)
			case models.EventCheckpointReady:
				if err := answerCheckpoint(ctx, manager, reader, wf.ID); err != nil {
					return err
				}
			case models.EventStatusUpdate:
				if event.Status == string(models.WorkflowCancelled) {
					fmt.Println("workflow cancelled")
					return nil
				}
			}
		}
	}
}

// settle reports whether the workflow reached a terminal state, answering
// a pending checkpoint along the way.
func settle(ctx context.Context, manager *services.Manager, reader *bufio.Reader, workflowID string) (bool, error) {
	detail, err := manager.Get(ctx, workflowID)
	if err != nil {
		return false, err
	}

	switch detail.Workflow.Status {
	case models.WorkflowCompleted:
		fmt.Println("workflow completed")
		return true, nil
	case models.WorkflowFailed:
		return true, fmt.Errorf("workflow failed")
	case models.WorkflowCancelled:
		fmt.Println("workflow cancelled")
		return true, nil
	case models.WorkflowAwaitingCheckpoint:
		return false, answerCheckpoint(ctx, manager, reader, workflowID)
	}
	return false, nil
}

func answerCheckpoint(ctx context.Context, manager *services.Manager, reader *bufio.Reader, workflowID string) error {
	detail, err := manager.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	cp := detail.PendingCheckpoint
	if cp == nil {
		return nil
	}

	fmt.Printf("\n=== CHECKPOINT %d: %s ===\n", cp.CheckpointNumber, cp.StepName)
	fmt.Println(cp.Instructions)
	fmt.Printf("\n--- editable content ---\n%s\n", cp.EditableContent)
	fmt.Printf("actions: %s (default), %s\n", cp.Actions.Primary, strings.Join(cp.Actions.Secondary, ", "))
	fmt.Print("action> ")

	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}

	action := strings.TrimSpace(line)
	if action == "" {
		action = cp.Actions.Primary
	}

	err = manager.Resume(ctx, workflowID, &models.CheckpointResolution{Action: action})
	// A ticker and an event can race to answer the same checkpoint; the
	// loser's resume is a no-op.
	if errors.Is(err, services.ErrInvalidTransition) || errors.Is(err, services.ErrCheckpointConflict) {
		return nil
	}
	return err
}
