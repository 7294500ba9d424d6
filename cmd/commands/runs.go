package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
)

// NewTemplatesCommand lists the built-in task templates.
func NewTemplatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "templates",
		Usage: "List task templates",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			list, err := newClient(cmd).Templates(ctx)
			if err != nil {
				return fmt.Errorf("templates: %w", err)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSCHEDULE\tDESCRIPTION")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, describeSchedule(t.Draft.Schedule), t.Description)
			}
			return w.Flush()
		},
	}
}

// NewRunsCommand shows the run journal.
func NewRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Show recent runs from the journal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "task", Usage: "Only runs of this task id"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Number of runs"},
		},
		Action: runRuns,
	}
}

func runRuns(ctx context.Context, cmd *cli.Command) error {
	runs, err := newClient(cmd).Runs(ctx, cmd.String("task"), int(cmd.Int("limit")))
	if err != nil {
		return fmt.Errorf("runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tTASK\tTRIGGER\tRESULT\tTOOK\tMESSAGE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.At.Local().Format(time.DateTime),
			r.TaskName,
			r.Trigger,
			okFail(r.Success),
			time.Duration(r.DurationMS)*time.Millisecond,
			r.Message,
		)
	}
	return w.Flush()
}

// NewEventsCommand follows the daemon's event stream.
func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Stream daemon events as JSON lines until interrupted",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			events, err := newClient(cmd).Events(ctx)
			if err != nil {
				return fmt.Errorf("events: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			for e := range events {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
