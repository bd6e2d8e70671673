package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/clinicauth/internal/app"
	"github.com/BradenHooton/clinicauth/internal/cli"
	"github.com/BradenHooton/clinicauth/internal/config"
)

const mailFlushTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(openRuntime)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openRuntime(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := app.NewLogger(cfg.Server.LogLevel)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	go application.Mailer.Start(context.Background())

	return &cli.Runtime{
		Admin:    application.Admin,
		Migrator: application.DB,
		Close: func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), mailFlushTimeout)
			defer cancel()
			application.Mailer.Stop(flushCtx)
			application.Close()
		},
	}, nil
}
