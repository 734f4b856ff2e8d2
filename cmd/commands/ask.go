package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/factotum-ai/factotum/clients/ws"
	"github.com/factotum-ai/factotum/internal/tasks"
	"github.com/factotum-ai/factotum/internal/workflow"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Submit a request to the gateway and print the outcome",
		ArgsUsage: "<request>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: "ws://127.0.0.1:18620/api/ws",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User the request belongs to",
				Value:   "default",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 300,
			},
		},
		Action: runAsk,
	}
}

func runAsk(_ context.Context, cmd *cli.Command) error {
	request := cmd.Args().First()
	if request == "" {
		return fmt.Errorf("usage: factotum ask <request>")
	}

	timeoutSecs := cmd.Int("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	client, err := wsclient.Dial(ctx, cmd.String("gateway"))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	payload, err := client.Ask(cmd.String("user"), request)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("timeout waiting for outcome")
		}
		return err
	}

	var outcome workflow.Outcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return fmt.Errorf("decode outcome: %w", err)
	}

	printOutcome(&outcome)
	return nil
}

func printOutcome(o *workflow.Outcome) {
	switch o.Kind {
	case workflow.OutcomeClarification:
		fmt.Println("Need more information:")
		fmt.Println(o.Questions)

	case workflow.OutcomeSimple:
		fmt.Println(o.Message)

	case workflow.OutcomeWorkflow:
		t := o.Task
		if t == nil {
			fmt.Println(o.Message)
			return
		}
		fmt.Printf("Task %s: %s\n", t.ID, t.Status)
		if o.Message != "" {
			fmt.Println(o.Message)
		}
		if t.Status == tasks.TaskWaiting {
			fmt.Fprintf(os.Stderr, "waiting for %s; check progress with: factotum tasks show %s\n", t.WaitingFor, t.ID)
		}

	default:
		fmt.Println(o.Message)
	}
}
