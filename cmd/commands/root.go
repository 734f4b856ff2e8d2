// Package commands defines the factotum CLI command tree.
package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/factotum-ai/factotum/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "factotum",
		Usage: "Task orchestration and resumption engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewGatewayCommand(),
			NewAskCommand(),
			NewTasksCommand(),
			NewStatusCommand(),
			NewWatchCommand(),
		},
	}
}
