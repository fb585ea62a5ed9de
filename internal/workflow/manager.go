// Package workflow runs the queue consumers. Each category gets its own
// fixed-size worker pool; a worker holds one item for the full pipeline run,
// heartbeating while it works. A monitor goroutine reclaims items whose
// worker died so a crashed process never strands work.
package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"inkstone/internal/config"
	"inkstone/internal/enrich"
	"inkstone/internal/logging"
	"inkstone/internal/queue"
)

// Enricher is the pipeline a worker drives for each claimed item.
type Enricher interface {
	Enrich(ctx context.Context, req enrich.Request) (*enrich.Result, error)
}

// CategoryStats snapshots one category's pool.
type CategoryStats struct {
	Workers   int
	Busy      int
	Processed int64
	Failed    int64
}

// Manager owns the worker pools and the stale-item monitor.
type Manager struct {
	store    *queue.Store
	enricher Enricher
	logger   *slog.Logger

	pollInterval      time.Duration
	errorRetryWait    time.Duration
	errorRetryBackoff time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	jobTimeout        time.Duration
	maxRedeliveries   int

	workerCounts map[queue.Category]int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stats   map[queue.Category]*categoryCounters
}

type categoryCounters struct {
	workers   int
	busy      int
	processed int64
	failed    int64
}

// NewManager wires a manager from configuration.
func NewManager(cfg *config.Config, store *queue.Store, enricher Enricher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	counts := map[queue.Category]int{
		queue.CategoryCardEnrichment: cfg.Workflow.CardEnrichmentWorkers,
		queue.CategoryDeckEnrichment: cfg.Workflow.DeckEnrichmentWorkers,
		queue.CategoryDeckImport:     cfg.Workflow.DeckImportWorkers,
		queue.CategoryBulkImport:     cfg.Workflow.BulkImportWorkers,
	}
	stats := make(map[queue.Category]*categoryCounters, len(counts))
	for category, workers := range counts {
		stats[category] = &categoryCounters{workers: workers}
	}
	return &Manager{
		store:             store,
		enricher:          enricher,
		logger:            logging.NewComponentLogger(logger, "workflow"),
		pollInterval:      time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryWait:    time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		errorRetryBackoff: time.Duration(cfg.Workflow.RetryBackoff) * time.Second,
		heartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		heartbeatTimeout:  time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
		jobTimeout:        time.Duration(cfg.Workflow.JobTimeout) * time.Second,
		maxRedeliveries:   cfg.Workflow.MaxRedeliveries,
		workerCounts:      counts,
		stats:             stats,
	}
}

// Start launches the worker pools and the stale-item monitor. It returns
// immediately; Stop shuts everything down.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for category, workers := range m.workerCounts {
		for i := 0; i < workers; i++ {
			m.wg.Add(1)
			go m.runWorker(runCtx, category, i)
		}
	}
	m.wg.Add(1)
	go m.runMonitor(runCtx)

	m.logger.Info("workflow started",
		logging.Int("card_enrichment_workers", m.workerCounts[queue.CategoryCardEnrichment]),
		logging.Int("deck_enrichment_workers", m.workerCounts[queue.CategoryDeckEnrichment]),
		logging.Int("deck_import_workers", m.workerCounts[queue.CategoryDeckImport]),
		logging.Int("bulk_import_workers", m.workerCounts[queue.CategoryBulkImport]))
}

// Stop cancels all workers and waits for in-flight items to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	started := m.started
	m.started = false
	m.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

// Stats snapshots per-category worker activity.
func (m *Manager) Stats() map[queue.Category]CategoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[queue.Category]CategoryStats, len(m.stats))
	for category, counters := range m.stats {
		out[category] = CategoryStats{
			Workers:   counters.workers,
			Busy:      counters.busy,
			Processed: counters.processed,
			Failed:    counters.failed,
		}
	}
	return out
}

func (m *Manager) markBusy(category queue.Category, delta int) {
	m.mu.Lock()
	if counters, ok := m.stats[category]; ok {
		counters.busy += delta
	}
	m.mu.Unlock()
}

func (m *Manager) markDone(category queue.Category, failed bool) {
	m.mu.Lock()
	if counters, ok := m.stats[category]; ok {
		counters.processed++
		if failed {
			counters.failed++
		}
	}
	m.mu.Unlock()
}

// runMonitor periodically reclaims items whose worker stopped heartbeating.
func (m *Manager) runMonitor(ctx context.Context) {
	defer m.wg.Done()
	interval := m.heartbeatTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := m.store.ReclaimStaleProcessing(ctx, m.heartbeatTimeout)
			if err != nil {
				m.logger.Warn("stale reclamation failed", logging.Error(err))
				continue
			}
			if reclaimed > 0 {
				m.logger.Warn("reclaimed stale items",
					logging.Int("count", reclaimed),
					logging.Duration("timeout", m.heartbeatTimeout))
			}
		}
	}
}
