package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"inkstone/internal/daemon"
	"inkstone/internal/logging"
	"inkstone/internal/queue"
	"inkstone/internal/workflow"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the enrichment daemon in the foreground",
		Long:  "Starts the worker pools and processes queued characters until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd, ctx)
		},
	}
}

func runDaemonProcess(cmd *cobra.Command, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "inkstone.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	enricher, cleanup, err := buildEnricher(cfg, logger)
	if err != nil {
		logger.Error("build pipeline", logging.Error(err))
		return err
	}
	defer cleanup()

	manager := workflow.NewManager(cfg, store, enricher, logger)
	d, err := daemon.New(cfg, store, logger, manager)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("inkstone daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
