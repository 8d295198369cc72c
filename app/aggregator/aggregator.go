package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flatdario/flat/app/collector"
)

// Enricher is the post-ingestion pass run once per batch.
type Enricher interface {
	Run(ctx context.Context) (int, error)
}

// Aggregator runs the configured collectors one after the other against a
// single store.
type Aggregator struct {
	store      collector.Store
	collectors []collector.Collector
	enricher   Enricher
}

func New(store collector.Store, collectors []collector.Collector, enricher Enricher) *Aggregator {
	return &Aggregator{
		store:      store,
		collectors: collectors,
		enricher:   enricher,
	}
}

// Summary reports the outcome of one batch.
type Summary struct {
	ID        string
	Results   []collector.Result
	Added     int
	Updated   int
	Failed    int
	Enriched  int
	EnrichErr error
	Duration  time.Duration
}

// Batch runs every collector in order. A failing collector is logged and the
// batch moves on to the next one. The enrichment pass runs at the end even
// when some collectors failed.
func (a *Aggregator) Batch(ctx context.Context, refresh bool) Summary {
	start := time.Now()
	summary := Summary{ID: uuid.NewString()}

	slog.Info("Batch started", "batch_id", summary.ID, "collectors", len(a.collectors), "refresh", refresh)

	for _, c := range a.collectors {
		if ctx.Err() != nil {
			slog.Warn("Batch cancelled", "batch_id", summary.ID, "next", c.Name())
			break
		}

		result := collector.Sync(ctx, c, a.store, refresh)
		summary.Results = append(summary.Results, result)
		summary.Added += result.Added
		summary.Updated += result.Updated

		switch {
		case result.Err == nil:
			slog.Info("Collector completed",
				"collector", result.Name,
				"added", result.Added,
				"updated", result.Updated,
				"skipped", result.Skipped,
				"stopped_early", result.Stopped,
				"duration", result.Duration.String())
		case errors.Is(result.Err, collector.ErrAuth):
			summary.Failed++
			slog.Error("Collector authentication failed", "collector", result.Name, "error", result.Err)
		default:
			summary.Failed++
			slog.Error("Collector failed",
				"collector", result.Name,
				"added", result.Added,
				"duration", result.Duration.String(),
				"error", result.Err)
		}
	}

	if a.enricher != nil && ctx.Err() == nil {
		enriched, err := a.enricher.Run(ctx)
		summary.Enriched = enriched
		if err != nil {
			summary.EnrichErr = err
			slog.Error("Enrichment failed", "batch_id", summary.ID, "error", err)
		}
	}

	summary.Duration = time.Since(start)
	slog.Info("Batch completed",
		"batch_id", summary.ID,
		"added", summary.Added,
		"updated", summary.Updated,
		"failed", summary.Failed,
		"enriched", summary.Enriched,
		"duration", summary.Duration.String())

	return summary
}

// Run executes one batch and releases the store afterwards.
func (a *Aggregator) Run(ctx context.Context, refresh bool, closer io.Closer) (Summary, error) {
	summary := a.Batch(ctx, refresh)
	if closer != nil {
		if err := closer.Close(); err != nil {
			return summary, fmt.Errorf("failed to close store: %w", err)
		}
	}
	return summary, nil
}
