package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/sickenflow"
)

const shutdownTimeout = 15 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume requests until interrupted or the worker faults",
		Args:  cobra.NoArgs,
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	conf, err := sickenflow.LoadConfig(configPath(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := sickenflow.NewSlogServiceLogger(sickenflow.NewJSONLogger(cmd.OutOrStdout(), conf.LogLevel))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := sickenflow.NewWorker(ctx, conf, logger, sickenflow.WorkerDependencies{
		Hooks: sickenflow.LoggingHooks(logger),
	})
	if err != nil {
		return fmt.Errorf("creating worker: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := worker.Close(shutdownCtx); err != nil {
			logger.Error("Shutdown incomplete", err, nil)
		}
	}()

	if err := worker.Start(ctx); err != nil {
		logger.Error("Worker stopped", err, sickenflow.LogFields{"state": worker.State().String()})
		return err
	}
	logger.Info("Worker stopped", nil)
	return nil
}
