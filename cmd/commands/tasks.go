package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"maintd/internal/task"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	idArg := "<task_id>"
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage maintenance tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all tasks",
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details and recent history",
				ArgsUsage: idArg,
				Action:    runTasksShow,
			},
			{
				Name:  "add",
				Usage: "Create a task from a template, a file, or flags",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "Template name (see 'maintd templates')"},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Draft as JSON or YAML"},
					&cli.StringFlag{Name: "name", Usage: "Task name"},
					&cli.StringFlag{Name: "description", Usage: "Free-text description"},
					&cli.StringFlag{Name: "action", Usage: "clean_ram, clean_disk or toggle_defender"},
					&cli.StringFlag{Name: "schedule", Usage: "startup, every:<min>, daily:<HH:MM>, weekly:<day>:<HH:MM>, ram>=85"},
					&cli.FloatFlag{Name: "min-usage", Usage: "clean_ram: skip below this RAM usage percent"},
					&cli.StringSliceFlag{Name: "category", Usage: "clean_disk: category to clean (repeatable)"},
					&cli.IntFlag{Name: "threshold-mb", Usage: "clean_disk: only clean when at least this much is reclaimable"},
					&cli.BoolFlag{Name: "dry-run", Usage: "clean_disk: report without deleting"},
					&cli.BoolFlag{Name: "enable", Usage: "toggle_defender: start instead of stop"},
					&cli.BoolFlag{Name: "permanent", Usage: "toggle_defender: also enable or disable the unit file"},
					&cli.BoolFlag{Name: "disabled", Usage: "Create the task disabled"},
				},
				Action: runTasksAdd,
			},
			{
				Name:      "rename",
				Usage:     "Rename a task",
				ArgsUsage: idArg + " <name>",
				Action:    runTasksRename,
			},
			{
				Name:      "reschedule",
				Usage:     "Replace a task's schedule",
				ArgsUsage: idArg + " <schedule>",
				Action:    runTasksReschedule,
			},
			{
				Name:      "rm",
				Usage:     "Delete a task",
				ArgsUsage: idArg,
				Action:    runTasksDelete,
			},
			{
				Name:      "enable",
				Usage:     "Enable a task",
				ArgsUsage: idArg,
				Action:    runTasksSetEnabled(true),
			},
			{
				Name:      "disable",
				Usage:     "Disable a task",
				ArgsUsage: idArg,
				Action:    runTasksSetEnabled(false),
			},
			{
				Name:      "run",
				Usage:     "Run a task now, ignoring its schedule",
				ArgsUsage: idArg,
				Action:    runTasksRun,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	list, err := newClient(cmd).ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENABLED\tACTION\tSCHEDULE\tRUNS\tLAST\tNAME")
	for _, t := range list {
		last := "-"
		if r := t.Stats.LastResult; r != nil {
			last = okFail(r.Success) + " " + r.At.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%d\t%s\t%s\n",
			t.ID,
			t.Enabled,
			t.Action.Kind,
			describeSchedule(t.Schedule),
			t.Stats.RunsTotal,
			last,
			t.Name,
		)
	}
	return w.Flush()
}

func requireID(cmd *cli.Command, verb string) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("usage: maintd tasks %s <task_id>", verb)
	}
	return id, nil
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	id, err := requireID(cmd, "show")
	if err != nil {
		return err
	}
	t, err := newClient(cmd).GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Name:        %s\n", t.Name)
	if t.Description != "" {
		fmt.Printf("Description: %s\n", t.Description)
	}
	fmt.Printf("Enabled:     %t\n", t.Enabled)
	fmt.Printf("Action:      %s\n", t.Action.Kind)
	fmt.Printf("Schedule:    %s\n", describeSchedule(t.Schedule))
	fmt.Printf("Created:     %s\n", t.CreatedAt.Local().Format(time.DateTime))
	if t.LastRunAt != nil {
		fmt.Printf("Last run:    %s\n", t.LastRunAt.Local().Format(time.DateTime))
	}
	if t.NextEligibleAt != nil {
		fmt.Printf("Next:        %s\n", t.NextEligibleAt.Local().Format(time.DateTime))
	}
	fmt.Printf("Runs:        %d (%d ok, %d failed)\n", t.Stats.RunsTotal, t.Stats.Successes, t.Stats.Failures)

	if len(t.History) > 0 {
		fmt.Println("\nHistory:")
		for i := len(t.History) - 1; i >= 0; i-- {
			r := t.History[i]
			fmt.Printf("  [%s] %s %s\n", r.At.Local().Format(time.DateTime), okFail(r.Success), r.Message)
		}
	}
	return nil
}

func runTasksAdd(ctx context.Context, cmd *cli.Command) error {
	c := newClient(cmd)

	var (
		t   task.Task
		err error
	)
	switch {
	case cmd.String("template") != "":
		t, err = c.CreateFromTemplate(ctx, cmd.String("template"))
	case cmd.String("file") != "":
		var d task.Draft
		if d, err = readDraft(cmd.String("file")); err != nil {
			return err
		}
		t, err = c.CreateTask(ctx, d)
	default:
		var d task.Draft
		if d, err = draftFromFlags(cmd); err != nil {
			return err
		}
		t, err = c.CreateTask(ctx, d)
	}
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Printf("Task %s created (%s).\n", t.ID, t.Name)
	return nil
}

func draftFromFlags(cmd *cli.Command) (task.Draft, error) {
	name := strings.TrimSpace(cmd.String("name"))
	if name == "" || cmd.String("action") == "" || cmd.String("schedule") == "" {
		return task.Draft{}, fmt.Errorf("usage: maintd tasks add --template <name> | --file <path> | --name --action --schedule")
	}
	act, err := actionFlags{
		kind:       cmd.String("action"),
		minUsage:   cmd.Float("min-usage"),
		categories: cmd.StringSlice("category"),
		threshold:  int(cmd.Int("threshold-mb")),
		dryRun:     cmd.Bool("dry-run"),
		enable:     cmd.Bool("enable"),
		permanent:  cmd.Bool("permanent"),
	}.action()
	if err != nil {
		return task.Draft{}, err
	}
	sched, err := parseSchedule(cmd.String("schedule"))
	if err != nil {
		return task.Draft{}, err
	}
	enabled := !cmd.Bool("disabled")
	return task.Draft{
		Name:        name,
		Description: cmd.String("description"),
		Action:      act,
		Schedule:    sched,
		Enabled:     &enabled,
	}, nil
}

func runTasksRename(ctx context.Context, cmd *cli.Command) error {
	id, name := cmd.Args().Get(0), strings.TrimSpace(cmd.Args().Get(1))
	if id == "" || name == "" {
		return fmt.Errorf("usage: maintd tasks rename <task_id> <name>")
	}
	t, err := newClient(cmd).UpdateTask(ctx, id, task.Patch{Name: &name})
	if err != nil {
		return fmt.Errorf("rename task: %w", err)
	}
	fmt.Printf("Task %s renamed to %q.\n", t.ID, t.Name)
	return nil
}

func runTasksReschedule(ctx context.Context, cmd *cli.Command) error {
	id, raw := cmd.Args().Get(0), cmd.Args().Get(1)
	if id == "" || raw == "" {
		return fmt.Errorf("usage: maintd tasks reschedule <task_id> <schedule>")
	}
	sched, err := parseSchedule(raw)
	if err != nil {
		return err
	}
	t, err := newClient(cmd).UpdateTask(ctx, id, task.Patch{Schedule: &sched})
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	fmt.Printf("Task %s now runs %s.\n", t.ID, describeSchedule(t.Schedule))
	return nil
}

func runTasksDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := requireID(cmd, "rm")
	if err != nil {
		return err
	}
	if err := newClient(cmd).DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	fmt.Printf("Task %s deleted.\n", id)
	return nil
}

func runTasksSetEnabled(enabled bool) cli.ActionFunc {
	verb := "disable"
	if enabled {
		verb = "enable"
	}
	return func(ctx context.Context, cmd *cli.Command) error {
		id, err := requireID(cmd, verb)
		if err != nil {
			return err
		}
		t, err := newClient(cmd).SetTaskEnabled(ctx, id, enabled)
		if err != nil {
			return fmt.Errorf("%s task: %w", verb, err)
		}
		fmt.Printf("Task %s enabled: %t\n", t.ID, t.Enabled)
		return nil
	}
}

func runTasksRun(ctx context.Context, cmd *cli.Command) error {
	id, err := requireID(cmd, "run")
	if err != nil {
		return err
	}
	out, err := newClient(cmd).RunTask(ctx, id)
	if err != nil {
		return fmt.Errorf("run task: %w", err)
	}
	fmt.Printf("%s: %s\n", okFail(out.Success), out.Message)
	return nil
}
