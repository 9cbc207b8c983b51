package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mtlprog/humantask/internal/database"
	"github.com/mtlprog/humantask/internal/domain"
	"github.com/mtlprog/humantask/internal/middleware"
	"github.com/mtlprog/humantask/internal/repository"
	"github.com/urfave/cli/v2"
)

func sweepCommand() *cli.Command {
	one := func(name, usage string, run func(a *app, ctx context.Context) (int, error)) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Flags: outboundFlags(),
			Action: func(c *cli.Context) error {
				a, err := open(c)
				if err != nil {
					return err
				}
				defer a.Close()

				start := time.Now()
				n, err := run(a, c.Context)
				slog.Info("sweep finished", "sweep", name, "processed", n, "duration", time.Since(start))
				if err != nil {
					return fmt.Errorf("%s sweep: %w", name, err)
				}
				return nil
			},
		}
	}

	return &cli.Command{
		Name:  "sweep",
		Usage: "Run one background sweep now and exit",
		Subcommands: []*cli.Command{
			one("overdue", "Notify about overdue tasks and expire stale ones", func(a *app, ctx context.Context) (int, error) {
				return a.sweeper.RunOverdueOnce(ctx)
			}),
			one("escalations", "Fire due timeout escalations", func(a *app, ctx context.Context) (int, error) {
				return a.sweeper.RunEscalationsOnce(ctx)
			}),
			one("reminders", "Send reminders for idle open tasks", func(a *app, ctx context.Context) (int, error) {
				return a.sweeper.RunRemindersOnce(ctx)
			}),
			one("outbox", "Republish undelivered task events", func(a *app, ctx context.Context) (int, error) {
				return a.sweeper.RunOutboxOnce(ctx)
			}),
		},
	}
}

func tenantFlag() cli.Flag {
	return &cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant id (config default when empty)"}
}

func tenantOf(c *cli.Context, a *app) string {
	if t := c.String("tenant"); t != "" {
		return t
	}
	return a.cfg.Defaults.TenantID
}

func tasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect human tasks",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks as a table",
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Only tasks assigned to or claimed by this user"},
					&cli.StringFlag{Name: "run", Usage: "Only tasks of this workflow run"},
					&cli.StringSliceFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status (repeatable)"},
					&cli.BoolFlag{Name: "overdue", Usage: "Only overdue tasks"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum rows"},
				},
				Action: runTasksList,
			},
			{
				Name:   "pending",
				Usage:  "List every open task of a tenant",
				Flags:  []cli.Flag{tenantFlag()},
				Action: runTasksPending,
			},
			{
				Name:  "show",
				Usage: "Show one task with its audit trail",
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.StringFlag{Name: "id", Usage: "Task id", Required: true},
				},
				Action: runTasksShow,
			},
			{
				Name:  "verify",
				Usage: "Verify the audit trail hash chain of a task",
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.StringFlag{Name: "id", Usage: "Task id", Required: true},
				},
				Action: runTasksVerify,
			},
		},
	}
}

func runTasksList(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	filters := repository.TaskListFilters{
		TenantID: tenantOf(c, a),
		Overdue:  c.Bool("overdue"),
		Sort:     []string{"-priority", "created_at"},
		Limit:    c.Int("limit"),
	}
	for _, s := range c.StringSlice("status") {
		status := domain.TaskStatus(strings.ToUpper(s))
		if !status.IsValid() {
			return fmt.Errorf("invalid status %q", s)
		}
		filters.Statuses = append(filters.Statuses, string(status))
	}
	if u := c.String("user"); u != "" {
		filters.AssigneeID = &u
	}
	if r := c.String("run"); r != "" {
		filters.WorkflowRunID = &r
	}

	snaps, total, err := a.tasks.List(c.Context, filters)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	now := time.Now().UTC()
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Priority", "Assignee", "Claimed By", "Due"})
	for _, s := range snaps {
		assignee := "-"
		if s.Assignment != nil {
			assignee = fmt.Sprintf("%s:%s", s.Assignment.Kind, s.Assignment.AssigneeID)
		}
		due := "-"
		if s.DueDate != nil {
			due = s.DueDate.Format(time.RFC3339)
			if now.After(*s.DueDate) && !s.Status.IsTerminal() {
				due += " (overdue)"
			}
		}
		tw.AppendRow(table.Row{s.ID, s.Title, s.TaskType, s.Status, s.Priority, assignee, orDash(s.ClaimedBy), due})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", total})
	tw.Render()
	return nil
}

func runTasksPending(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.queries.PendingTasks(c.Context, tenantOf(c, a))
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Claimed By", "Created"})
	for _, t := range tasks {
		assignee := "-"
		if as := t.Assignment(); as != nil {
			assignee = fmt.Sprintf("%s:%s", as.Kind, as.AssigneeID)
		}
		tw.AppendRow(table.Row{t.ID(), t.Title(), t.Status(), t.Priority(), assignee, orDash(t.ClaimedBy()), t.CreatedAt().Format(time.RFC3339)})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "Total", len(tasks)})
	tw.Render()
	return nil
}

func runTasksShow(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.queries.GetTask(c.Context, tenantOf(c, a), c.String("id"))
	if err != nil {
		return err
	}

	info := table.NewWriter()
	info.SetOutputMirror(os.Stdout)
	info.AppendRows([]table.Row{
		{"ID", task.ID()},
		{"Tenant", task.TenantID()},
		{"Workflow run", task.WorkflowRunID()},
		{"Node", task.NodeID()},
		{"Type", task.TaskType()},
		{"Title", task.Title()},
		{"Status", task.Status()},
		{"Priority", task.Priority()},
		{"Claimed by", orDash(task.ClaimedBy())},
		{"Version", task.Version()},
	})
	if as := task.Assignment(); as != nil {
		info.AppendRow(table.Row{"Assignee", fmt.Sprintf("%s:%s", as.Kind, as.AssigneeID)})
	}
	if due := task.DueDate(); due != nil {
		info.AppendRow(table.Row{"Due", due.Format(time.RFC3339)})
	}
	if oc := task.Outcome(); oc != nil {
		info.AppendRow(table.Row{"Outcome", oc.Label()})
		info.AppendRow(table.Row{"Completed by", task.CompletedBy()})
	}
	info.Render()

	trail := table.NewWriter()
	trail.SetOutputMirror(os.Stdout)
	trail.AppendHeader(table.Row{"At", "Action", "Actor", "Detail"})
	for _, e := range task.AuditTrail() {
		trail.AppendRow(table.Row{e.At.Format(time.RFC3339), e.Action, e.Actor, e.Detail})
	}
	trail.Render()
	return nil
}

func runTasksVerify(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	id := c.String("id")
	if err := a.queries.VerifyAuditTrail(c.Context, tenantOf(c, a), id); err != nil {
		return fmt.Errorf("audit trail of task %s: %w", id, err)
	}
	fmt.Printf("audit trail of task %s is intact\n", id)
	return nil
}

func membersCommand() *cli.Command {
	flags := func() []cli.Flag {
		return []cli.Flag{
			tenantFlag(),
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id", Required: true},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "GROUP or ROLE", Required: true},
			&cli.StringFlag{Name: "principal", Usage: "Group or role id", Required: true},
		}
	}

	membership := func(c *cli.Context, a *app) (repository.Membership, error) {
		kind := domain.AssigneeKind(strings.ToUpper(c.String("kind")))
		if kind != domain.AssigneeGroup && kind != domain.AssigneeRole {
			return repository.Membership{}, fmt.Errorf("invalid kind %q: want GROUP or ROLE", c.String("kind"))
		}
		return repository.Membership{
			TenantID:    tenantOf(c, a),
			UserID:      c.String("user"),
			Kind:        kind,
			PrincipalID: c.String("principal"),
		}, nil
	}

	return &cli.Command{
		Name:  "members",
		Usage: "Manage group and role memberships used for claims",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a user to a group or role",
				Flags: flags(),
				Action: func(c *cli.Context) error {
					a, err := open(c)
					if err != nil {
						return err
					}
					defer a.Close()

					m, err := membership(c, a)
					if err != nil {
						return err
					}
					if err := a.members.Add(c.Context, m); err != nil {
						return err
					}
					slog.Info("membership added", "tenant_id", m.TenantID, "user_id", m.UserID, "kind", m.Kind, "principal_id", m.PrincipalID)
					return nil
				},
			},
			{
				Name:  "remove",
				Usage: "Remove a user from a group or role",
				Flags: flags(),
				Action: func(c *cli.Context) error {
					a, err := open(c)
					if err != nil {
						return err
					}
					defer a.Close()

					m, err := membership(c, a)
					if err != nil {
						return err
					}
					if err := a.members.Remove(c.Context, m); err != nil {
						return err
					}
					slog.Info("membership removed", "tenant_id", m.TenantID, "user_id", m.UserID, "kind", m.Kind, "principal_id", m.PrincipalID)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List the memberships of a user",
				Flags: []cli.Flag{
					tenantFlag(),
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User id", Required: true},
				},
				Action: func(c *cli.Context) error {
					a, err := open(c)
					if err != nil {
						return err
					}
					defer a.Close()

					ms, err := a.members.ListForUser(c.Context, tenantOf(c, a), c.String("user"))
					if err != nil {
						return err
					}
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Kind", "Principal"})
					for _, m := range ms {
						tw.AppendRow(table.Row{m.Kind, m.PrincipalID})
					}
					tw.Render()
					return nil
				},
			},
		},
	}
}

// tokenCommand issues bearer tokens for local use and tests. It does not touch the database.
func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for the API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "jwt-secret", EnvVars: []string{"JWT_SECRET"}, Required: true, Usage: "HMAC secret for bearer tokens"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "User id (token subject)"},
			&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Usage: "Tenant id claim"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "Token lifetime, 0 for no expiry"},
		},
		Action: func(c *cli.Context) error {
			token, err := middleware.IssueToken([]byte(c.String("jwt-secret")), c.String("user"), c.String("tenant"), c.Duration("ttl"))
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// migrateCommand manages the schema outside of serve. Other commands migrate up on start.
func migrateCommand() *cli.Command {
	connectOnly := func(c *cli.Context) (*database.DB, error) {
		db, err := database.New(c.Context, c.String("database-url"), database.Options{MaxConns: 2, MinConns: 1})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	}

	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply pending migrations",
				Action: func(c *cli.Context) error {
					db, err := connectOnly(c)
					if err != nil {
						return err
					}
					defer db.Close()
					return database.RunMigrations(c.Context, db.Pool())
				},
			},
			{
				Name:  "version",
				Usage: "Print the applied schema version",
				Action: func(c *cli.Context) error {
					db, err := connectOnly(c)
					if err != nil {
						return err
					}
					defer db.Close()

					v, err := database.MigrationVersion(c.Context, db.Pool())
					if err != nil {
						return err
					}
					fmt.Println(v)
					return nil
				},
			},
			{
				Name:  "reset",
				Usage: "Roll back every migration (drops all task data)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm dropping all task data"},
				},
				Action: func(c *cli.Context) error {
					if !c.Bool("yes") {
						return fmt.Errorf("refusing to reset without --yes")
					}
					db, err := connectOnly(c)
					if err != nil {
						return err
					}
					defer db.Close()
					return database.RollbackMigrations(c.Context, db.Pool())
				},
			},
		},
	}
}
