// Package api assembles operator-facing status reports from the queue and
// the worker pools. The daemon serves these over the CLI; nothing here
// talks to providers.
package api

import (
	"context"
	"fmt"
	"sort"

	"inkstone/internal/queue"
	"inkstone/internal/workflow"
)

// HealthState summarizes whether the pipeline is keeping up.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthError    HealthState = "error"
)

// QueueCounts groups item counts by lifecycle phase.
type QueueCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Partial   int `json:"partial"`
	Delayed   int `json:"delayed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// WorkerStatus reports one category's pool.
type WorkerStatus struct {
	Category  string `json:"category"`
	Workers   int    `json:"workers"`
	Busy      int    `json:"busy"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// StatusReport is the full operator snapshot.
type StatusReport struct {
	Health  HealthState    `json:"health"`
	Detail  string         `json:"detail,omitempty"`
	Queue   QueueCounts    `json:"queue"`
	Workers []WorkerStatus `json:"workers"`
}

// WorkerStatsSource is implemented by the workflow manager.
type WorkerStatsSource interface {
	Stats() map[queue.Category]workflow.CategoryStats
}

// failureRateThreshold is the fraction of finished items that may fail
// before the report degrades.
const failureRateThreshold = 0.10

// BuildStatusReport combines queue statistics with worker activity. A nil
// workers source (daemon not running) reports queue state only and flags
// the pipeline as degraded when work is waiting with nobody to do it.
func BuildStatusReport(ctx context.Context, store *queue.Store, workers WorkerStatsSource) (*StatusReport, error) {
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	report := &StatusReport{Queue: countsFromStats(stats)}

	if workers != nil {
		poolStats := workers.Stats()
		categories := make([]queue.Category, 0, len(poolStats))
		for category := range poolStats {
			categories = append(categories, category)
		}
		sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
		for _, category := range categories {
			pool := poolStats[category]
			report.Workers = append(report.Workers, WorkerStatus{
				Category:  string(category),
				Workers:   pool.Workers,
				Busy:      pool.Busy,
				Processed: pool.Processed,
				Failed:    pool.Failed,
			})
		}
	}

	report.Health, report.Detail = judgeHealth(report, workers != nil)
	return report, nil
}

func countsFromStats(stats queue.Stats) QueueCounts {
	counts := QueueCounts{Total: stats.Total}
	for status, n := range stats.ByStatus {
		switch {
		case status == queue.StatusPending:
			counts.Waiting += n
		case status == queue.StatusDelayed:
			counts.Delayed += n
		case status == queue.StatusCompleted:
			counts.Completed += n
		case status == queue.StatusPartiallyCompleted:
			counts.Partial += n
		case status == queue.StatusFailed:
			counts.Failed += n
		case status.IsProcessing():
			counts.Active += n
		}
	}
	return counts
}

func judgeHealth(report *StatusReport, daemonRunning bool) (HealthState, string) {
	totalWorkers := 0
	for _, pool := range report.Workers {
		totalWorkers += pool.Workers
	}
	if daemonRunning && totalWorkers == 0 {
		return HealthError, "no workers running"
	}
	if !daemonRunning && (report.Queue.Waiting > 0 || report.Queue.Active > 0) {
		return HealthDegraded, "items queued but daemon is not running"
	}

	finished := report.Queue.Completed + report.Queue.Partial + report.Queue.Failed
	if finished > 0 {
		rate := float64(report.Queue.Failed) / float64(finished)
		if rate > failureRateThreshold {
			return HealthDegraded, fmt.Sprintf("failure rate %.0f%% exceeds %.0f%%",
				rate*100, failureRateThreshold*100)
		}
	}
	return HealthHealthy, ""
}
