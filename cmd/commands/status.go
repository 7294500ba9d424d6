package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show scheduler status",
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	st, err := newClient(cmd).Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	enabled := "off"
	if st.Enabled {
		enabled = "on"
	}
	fmt.Printf("State:       %s\n", st.State)
	fmt.Printf("Scheduler:   %s\n", enabled)
	fmt.Printf("Tick:        %s (%s)\n", st.Tick, st.Timezone)
	fmt.Printf("Ticks:       %d\n", st.Ticks)
	if st.LastTickAt != nil {
		fmt.Printf("Last tick:   %s (due %d, skipped %d)\n", st.LastTickAt.Format(time.DateTime), st.LastTickDue, st.LastTickSkipped)
	}
	if st.NextTickAt != nil {
		fmt.Printf("Next tick:   %s\n", st.NextTickAt.Format(time.DateTime))
	}
	if st.RunningTask != "" {
		fmt.Printf("Running:     %s\n", st.RunningTask)
	}
	if r := st.LastRun; r != nil {
		fmt.Printf("Last run:    %s %s (%s) %s: %s\n", r.At.Format(time.DateTime), r.TaskName, r.Trigger, okFail(r.Outcome.Success), r.Outcome.Message)
	}
	if st.SaveError != "" {
		fmt.Printf("\nSave error:  %s\n", st.SaveError)
	}
	return nil
}

// NewSchedulerCommand returns the global on/off switch.
func NewSchedulerCommand() *cli.Command {
	return &cli.Command{
		Name:      "scheduler",
		Usage:     "Turn the scheduler on or off",
		ArgsUsage: "on|off",
		Action:    runScheduler,
	}
}

func runScheduler(ctx context.Context, cmd *cli.Command) error {
	var enabled bool
	switch cmd.Args().First() {
	case "on":
		enabled = true
	case "off":
	default:
		return fmt.Errorf("usage: maintd scheduler on|off")
	}
	st, err := newClient(cmd).SetScheduler(ctx, enabled)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	fmt.Printf("Scheduler enabled: %t\n", st.SchedulerEnabled)
	return nil
}

func okFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}
