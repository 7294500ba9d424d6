// Package commands holds the maintd command line: the daemon itself and a
// thin client for its local API.
package commands

import (
	"github.com/urfave/cli/v3"

	"maintd/internal/api"
)

const defaultAddr = "127.0.0.1:7420"

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "maintd",
		Usage: "Scheduled desktop maintenance daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Daemon API address",
				Value:   defaultAddr,
				Sources: cli.EnvVars("MAINTD_ADDR"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "API bearer token",
				Sources: cli.EnvVars("MAINTD_TOKEN"),
			},
		},
		Commands: []*cli.Command{
			NewRunCommand(),
			NewStatusCommand(),
			NewSchedulerCommand(),
			NewTasksCommand(),
			NewTemplatesCommand(),
			NewRunsCommand(),
			NewEventsCommand(),
		},
	}
}

func newClient(cmd *cli.Command) *api.Client {
	return api.NewClient(cmd.String("addr"), cmd.String("token"))
}
