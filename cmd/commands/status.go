package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/factotum-ai/factotum/internal/config"
	"github.com/factotum-ai/factotum/internal/heartbeat"
	"github.com/factotum-ai/factotum/internal/tasks"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show task counts per status",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Filter by user",
			},
		},
		Action: runStatus,
	}
}

// statusOrder fixes the histogram row order.
var statusOrder = []tasks.TaskStatus{
	tasks.TaskPending,
	tasks.TaskInProgress,
	tasks.TaskWaiting,
	tasks.TaskCompleted,
	tasks.TaskFailed,
	tasks.TaskCancelled,
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	hbPath := filepath.Join(config.FactotumPath(), "heartbeat.json")
	switch hbStatus, hb, _ := heartbeat.Check(hbPath, 2*time.Minute); hbStatus {
	case heartbeat.StatusAlive:
		fmt.Printf("Gateway: ALIVE on %s (PID %d, uptime %s)\n\n", hb.Addr, hb.PID, hb.Uptime)
	case heartbeat.StatusStale:
		fmt.Printf("Gateway: STALE (PID %d, last heartbeat %s ago)\n\n",
			hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
	default:
		fmt.Print("Gateway: NOT RUNNING\n\n")
	}

	manager, store, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	userID := cmd.String("user")

	counts, err := manager.StatusCounts(ctx, userID)
	if err != nil {
		return fmt.Errorf("status counts: %w", err)
	}
	overdue, err := manager.Overdue(ctx, userID)
	if err != nil {
		return fmt.Errorf("overdue tasks: %w", err)
	}

	total := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, st := range statusOrder {
		if n := counts[st]; n > 0 {
			fmt.Fprintf(w, "%s\t%d\n", st, n)
			total += n
		}
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(overdue) > 0 {
		fmt.Printf("\n%d task(s) past their scheduled time:\n", len(overdue))
		for _, t := range overdue {
			fmt.Printf("  %s  %s (due %s)\n", t.ID, t.Title, t.ScheduledFor.Format("2006-01-02 15:04"))
		}
	}

	return nil
}
