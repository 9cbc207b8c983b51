package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtlprog/humantask/internal/config"
	"github.com/mtlprog/humantask/internal/handler"
	"github.com/mtlprog/humantask/internal/middleware"
	"github.com/urfave/cli/v2"
)

// outboundFlags configure notification and event delivery.
func outboundFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "smtp-host", Usage: "SMTP relay host (log emails when empty)", EnvVars: []string{"SMTP_HOST"}},
		&cli.StringFlag{Name: "smtp-port", Value: "587", Usage: "SMTP relay port", EnvVars: []string{"SMTP_PORT"}},
		&cli.StringFlag{Name: "smtp-username", Usage: "SMTP username", EnvVars: []string{"SMTP_USERNAME"}},
		&cli.StringFlag{Name: "smtp-password", Usage: "SMTP password", EnvVars: []string{"SMTP_PASSWORD"}},
		&cli.StringFlag{Name: "slack-webhook-url", Usage: "Slack incoming webhook URL", EnvVars: []string{"SLACK_WEBHOOK_URL"}},
		&cli.StringFlag{Name: "workflow-callback-url", Usage: "Workflow engine URL receiving task events", EnvVars: []string{"WORKFLOW_CALLBACK_URL"}},
		&cli.StringFlag{Name: "webhook-secret", Usage: "Shared secret sent with task events", EnvVars: []string{"WEBHOOK_SECRET"}},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the API server and background sweeps",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{"PORT"},
			},
			&cli.StringFlag{
				Name:     "jwt-secret",
				Usage:    "HMAC secret for bearer tokens",
				EnvVars:  []string{"JWT_SECRET"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "no-sweeps",
				Usage:   "Serve the API without running background sweeps",
				EnvVars: []string{"NO_SWEEPS"},
			},
		}, outboundFlags()...),
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}

	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	auth := middleware.NewAuthMiddleware([]byte(c.String("jwt-secret")), a.cfg.Defaults.TenantID)
	h := handler.New(a.db.Pool(), a.orchestrator, a.queries, auth)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweepCtx, stopSweeps := context.WithCancel(c.Context)
	defer stopSweeps()
	sweepsDone := make(chan struct{})
	if c.Bool("no-sweeps") {
		close(sweepsDone)
	} else {
		go func() {
			defer close(sweepsDone)
			if err := a.sweeper.Run(sweepCtx); err != nil {
				slog.Error("sweeper stopped", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	stopSweeps()
	select {
	case <-sweepsDone:
	case <-shutdownCtx.Done():
		slog.Warn("sweeps did not stop before shutdown timeout")
	}

	slog.Info("server stopped")
	return nil
}
