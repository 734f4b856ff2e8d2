package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/factotum-ai/factotum/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	userFlag := &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "Filter by user",
	}

	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and manage tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					userFlag,
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (pending, in_progress, completed, waiting_for_response, failed, cancelled)",
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details and activity",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task and its subtasks",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Cancellation reason",
					},
				},
				Action: runTasksCancel,
			},
			{
				Name:      "retry",
				Usage:     "Retry a failed task",
				ArgsUsage: "<task_id>",
				Action:    runTasksRetry,
			},
		},
		DefaultCommand: "list",
	}
}

// newManager opens the configured store and wraps it in a lifecycle manager.
// The caller must Close the returned store.
func newManager(cmd *cli.Command) (*tasks.Manager, tasks.Store, error) {
	cfg := loadConfig(cmd)
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open task store: %w", err)
	}
	return tasks.NewManager(store, nil, cfg.Orchestrator.MaxRetries), store, nil
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	manager, store, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := tasks.ListFilter{UserID: cmd.String("user")}
	if status := cmd.String("status"); status != "" {
		st := tasks.TaskStatus(status)
		if !tasks.ValidStatus(st) {
			return fmt.Errorf("unknown status %q", status)
		}
		filter.Status = st
	}

	list, err := manager.Store().List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tSTATUS\tSTEPS\tWAITING\tTITLE")
	for _, t := range list {
		steps := "-"
		if len(t.Steps) > 0 {
			steps = fmt.Sprintf("%d/%d", len(t.StepsCompleted), len(t.Steps))
		}
		waiting := "-"
		if t.WaitingFor != "" {
			waiting = string(t.WaitingFor)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.UserID, t.Status, steps, waiting, t.Title)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: factotum tasks show <task_id>")
	}

	manager, store, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	t, err := manager.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("User:        %s\n", t.UserID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Type:        %s\n", t.TaskType)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Priority:    %s\n", t.Priority)
	fmt.Printf("Created:     %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	if t.ScheduledFor != nil {
		fmt.Printf("Scheduled:   %s\n", t.ScheduledFor.Format("2006-01-02 15:04:05"))
	}
	if t.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", t.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if t.ParentTaskID != "" {
		fmt.Printf("Parent:      %s\n", t.ParentTaskID)
	}
	if t.RetryCount > 0 {
		fmt.Printf("Retries:     %d/%d\n", t.RetryCount, t.MaxRetries)
	}

	if t.OriginalRequest != "" {
		fmt.Printf("\nRequest:\n%s\n", t.OriginalRequest)
	}

	if len(t.Steps) > 0 {
		fmt.Println("\nSteps:")
		for _, step := range t.Steps {
			status := string(step.Status)
			if status == "" {
				status = "pending"
			}
			fmt.Printf("  %d. [%s] %s\n", step.Number, status, step.Description)
		}
	}

	if t.IsWaiting() {
		fmt.Printf("\nWaiting for: %s\n", t.WaitingFor)
		for k, v := range t.WaitingForData {
			fmt.Printf("  %s: %s\n", k, v)
		}
	}

	if t.FailureReason != "" {
		fmt.Printf("\nError: %s\n", t.FailureReason)
	}

	activity, _ := manager.Store().LoadActivity(ctx, taskID)
	if len(activity) > 0 {
		fmt.Println("\nActivity:")
		for _, a := range activity {
			fmt.Printf("  [%s] %s: %s\n", a.Ts.Format("15:04:05"), a.Type, a.Summary)
		}
	}

	return nil
}

func runTasksCancel(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: factotum tasks cancel <task_id>")
	}

	manager, store, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	reason := cmd.String("reason")
	if reason == "" {
		reason = "cancelled via CLI"
	}

	if err := manager.Cancel(ctx, taskID, reason); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	fmt.Printf("Task %s cancelled.\n", taskID)
	return nil
}

func runTasksRetry(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: factotum tasks retry <task_id>")
	}

	manager, store, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	t, err := manager.Retry(ctx, taskID)
	if err != nil {
		return fmt.Errorf("retry task: %w", err)
	}

	fmt.Printf("Task %s reset to %s (attempt %d of %d).\n", t.ID, t.Status, t.RetryCount, t.MaxRetries)
	return nil
}
