// Package daemon supervises the background processing services and enforces
// single-instance execution through a lock file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"inkstone/internal/config"
	"inkstone/internal/logging"
	"inkstone/internal/queue"
	"inkstone/internal/workflow"
)

// Daemon owns the workflow manager lifecycle and the instance lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	QueueDBPath  string
	LockFilePath string
	Workers      map[queue.Category]workflow.CategoryStats
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "inkstoned.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and launches the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another inkstone daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.workflow.Start(runCtx)
	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon. The queue store is owned by the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Status snapshots the daemon state.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Workers:      d.workflow.Stats(),
	}
}
