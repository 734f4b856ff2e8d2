package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/factotum-ai/factotum/clients/ws"
	"github.com/factotum-ai/factotum/internal/events"
	wsprotocol "github.com/factotum-ai/factotum/internal/gateway/ws"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream live gateway events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: "ws://127.0.0.1:18620/api/ws",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Only show events for this user",
			},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	client, err := wsclient.Dial(ctx, cmd.String("gateway"))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	userFilter := cmd.String("user")

	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Type != wsprotocol.FrameTypeEvent {
			continue
		}
		if userFilter != "" && frame.UserID != userFilter {
			continue
		}

		var evt events.Event
		if err := json.Unmarshal(frame.Payload, &evt); err != nil {
			continue
		}

		line, _ := json.Marshal(evt.Payload)
		fmt.Printf("%s  %-24s %s\n", evt.Timestamp.Format(time.TimeOnly), evt.Type, line)
	}
}
