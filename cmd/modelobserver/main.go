package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/modelobserver/internal/app"
)

func main() {
	cmd := &cli.Command{
		Name:  "modelobserver",
		Usage: "Record which league rows are created, updated and deleted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./modelobserver.sqlite",
				Sources: cli.EnvVars("MODELOBSERVER_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringSliceFlag{
				Name:    "entities",
				Sources: cli.EnvVars("MODELOBSERVER_ENTITIES"),
				Usage:   "Entity types to observe (default: all league entities)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("MODELOBSERVER_LOG_LEVEL"),
				Usage:   "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Sources: cli.EnvVars("MODELOBSERVER_LOG_FORMAT"),
				Usage:   "json or console",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, err := app.NewLogger(c.String("log-level"), c.String("log-format"))
			if err != nil {
				return ctx, err
			}
			zap.ReplaceGlobals(logger)
			return ctx, nil
		},
		After: func(context.Context, *cli.Command) error {
			_ = zap.L().Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "scenario",
				Usage: "Play the exhibition and print the ledger reports",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "report-url",
						Sources: cli.EnvVars("MODELOBSERVER_REPORT_URL"),
						Usage:   "Webhook receiving the ledger reports (default: log them)",
					},
					&cli.StringFlag{
						Name:    "report-secret",
						Sources: cli.EnvVars("MODELOBSERVER_REPORT_SECRET"),
						Usage:   "HMAC-SHA256 signing secret for the report webhook",
					},
				},
				Action: runScenario,
			},
			{
				Name:  "serve",
				Usage: "Play the exhibition and serve the ledgers over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Value:   ":8080",
						Sources: cli.EnvVars("MODELOBSERVER_ADDR"),
						Usage:   "HTTP listen address",
					},
				},
				Action: serve,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func config(c *cli.Command) app.Config {
	return app.Config{
		Addr:     c.String("addr"),
		DBPath:   c.String("db-path"),
		Entities: c.StringSlice("entities"),
		Logger:   zap.L(),

		ReportURL:    c.String("report-url"),
		ReportSecret: c.String("report-secret"),
	}
}

func runScenario(ctx context.Context, c *cli.Command) error {
	reports, err := app.RunScenario(ctx, config(c))
	if err != nil {
		return fmt.Errorf("run scenario: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg := config(c)
	logger := zap.L()

	server, closer, err := app.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			logger.Warn("close resources", zap.Error(closeErr))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case sig := <-sigCh:
		logger.Info("received signal", zap.Stringer("signal", sig))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
