package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mtlprog/humantask/internal/config"
	"github.com/mtlprog/humantask/internal/database"
	"github.com/mtlprog/humantask/internal/escalation"
	"github.com/mtlprog/humantask/internal/events"
	"github.com/mtlprog/humantask/internal/notification"
	"github.com/mtlprog/humantask/internal/repository"
	"github.com/mtlprog/humantask/internal/service"
	"github.com/urfave/cli/v2"
)

// app holds the wired components shared by every command.
type app struct {
	db           *database.DB
	cfg          *config.Config
	tasks        *repository.TaskRepository
	members      *repository.MembershipRepository
	outbox       *events.Outbox
	notifier     *notification.Service
	escalator    *escalation.Service
	orchestrator *service.Orchestrator
	queries      *service.QueryService
	sweeper      *service.Sweeper
}

func (a *app) Close() {
	a.db.Close()
}

// outboundOptions are the delivery settings only serve and sweep expose.
type outboundOptions struct {
	smtp        notification.SMTPConfig
	slackURL    string
	callbackURL string
	callbackKey string
}

func outboundFromFlags(c *cli.Context, cfg *config.Config) outboundOptions {
	return outboundOptions{
		smtp: notification.SMTPConfig{
			Host:     c.String("smtp-host"),
			Port:     c.String("smtp-port"),
			Username: c.String("smtp-username"),
			Password: c.String("smtp-password"),
			From:     cfg.Notifications.EmailFrom,
		},
		slackURL:    c.String("slack-webhook-url"),
		callbackURL: c.String("workflow-callback-url"),
		callbackKey: c.String("webhook-secret"),
	}
}

// connect opens the database, applies migrations and loads the YAML config.
func connect(ctx context.Context, c *cli.Context) (*database.DB, *config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.New(ctx, c.String("database-url"), database.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, cfg, nil
}

// build wires repositories and services on top of an open database.
func build(db *database.DB, cfg *config.Config, out outboundOptions) *app {
	pool := db.Pool()
	tasks := repository.NewTaskRepository(pool)
	eventRepo := repository.NewTaskEventRepository(pool)
	escalations := repository.NewEscalationRepository(pool)
	members := repository.NewMembershipRepository(pool)

	publishers := events.MultiPublisher{events.NewLogPublisher(nil)}
	if out.callbackURL != "" {
		publishers = append(publishers, events.NewWebhookPublisher(events.WebhookConfig{
			URL:    out.callbackURL,
			Secret: out.callbackKey,
		}))
		slog.Info("workflow callback enabled", "url", out.callbackURL)
	}
	outbox := events.NewOutbox(eventRepo, publishers, 0)

	var email notification.EmailSender = notification.LogEmailSender{}
	if out.smtp.Host != "" {
		email = notification.NewSMTPSender(out.smtp)
	}
	var chat notification.ChatClient = notification.LogChatClient{}
	if out.slackURL != "" {
		chat = notification.NewSlackWebhook(out.slackURL)
	}
	notifier := notification.NewService(email, chat, tasks, notification.Config{
		EmailDomain:   cfg.Notifications.EmailDomain,
		BaseURL:       cfg.Notifications.BaseURL,
		ReminderAfter: cfg.Notifications.ReminderAfter,
	})

	escalator := escalation.NewService(escalations, tasks, outbox, notifier, escalation.Options{})

	orchestrator := service.NewOrchestrator(tasks, notifier, escalator, outbox, members, service.Defaults{
		TenantID:          cfg.Defaults.TenantID,
		EscalationTargets: cfg.Escalation.DefaultTargets,
	})

	sweeper := service.NewSweeper(tasks, notifier, escalator, outbox, orchestrator, service.SweepIntervals{
		Overdue:            cfg.Sweeps.OverdueInterval,
		Escalation:         cfg.Sweeps.EscalationInterval,
		Reminder:           cfg.Sweeps.ReminderInterval,
		Outbox:             cfg.Sweeps.OutboxInterval,
		ExpireOverdueAfter: cfg.Sweeps.ExpireOverdueAfter,
	})

	return &app{
		db:           db,
		cfg:          cfg,
		tasks:        tasks,
		members:      members,
		outbox:       outbox,
		notifier:     notifier,
		escalator:    escalator,
		orchestrator: orchestrator,
		queries:      service.NewQueryService(tasks),
		sweeper:      sweeper,
	}
}

// open is connect followed by build.
func open(c *cli.Context) (*app, error) {
	db, cfg, err := connect(c.Context, c)
	if err != nil {
		return nil, err
	}
	return build(db, cfg, outboundFromFlags(c, cfg)), nil
}
