package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flatdario/flat/app/database"
	"github.com/flatdario/flat/app/item"
)

// Session carries the state of one collector run: the parameters, the store
// writer and the counters. Save applies the incremental sync stop rule.
type Session struct {
	store  Store
	params Params
	name   string

	Added   int
	Updated int
	Skipped int
	// StoppedAt is set when the run ended on known territory instead of
	// exhausting the source.
	StoppedAt *item.Key
}

func NewSession(store Store, name string, params Params) *Session {
	return &Session{
		store:  store,
		params: params,
		name:   name,
	}
}

func (s *Session) Refresh() bool {
	return s.params.Refresh
}

func (s *Session) Since() *time.Time {
	return s.params.Since
}

func (s *Session) Stopped() bool {
	return s.StoppedAt != nil
}

// Save normalizes the record and upserts it. It returns stop=true when the
// collector must end its run: the record is already stored, or it is older
// than the resume cursor. Malformed records are counted and skipped. Only
// storage faults are returned as errors.
func (s *Session) Save(ctx context.Context, it item.Item) (bool, error) {
	if s.Stopped() {
		return true, nil
	}

	it = item.Normalize(it)
	if err := it.Validate(); err != nil {
		s.Skip(it.ID, err)
		return false, nil
	}

	if !s.params.Refresh && s.params.Since != nil && it.Timestamp.Before(*s.params.Since) {
		s.stop(it, "older than resume cursor")
		return true, nil
	}

	res, err := s.store.Upsert(ctx, it, s.params.Refresh)
	if err != nil {
		if errors.Is(err, item.ErrMalformed) {
			s.Skip(it.ID, err)
			return false, nil
		}
		return true, fmt.Errorf("failed to save %s/%s: %w", it.Type, it.ID, err)
	}

	switch res {
	case database.UpsertInserted:
		s.Added++
		slog.Info("Item added", "collector", s.name, "title", it.Title, "id", it.ID)
	case database.UpsertUpdated:
		s.Updated++
		slog.Debug("Item updated", "collector", s.name, "title", it.Title, "id", it.ID)
	case database.UpsertExists:
		s.stop(it, "already stored")
		return true, nil
	}

	return false, nil
}

// Skip records a record the collector could not map.
func (s *Session) Skip(id string, err error) {
	s.Skipped++
	slog.Warn("Skipping malformed record", "collector", s.name, "id", id, "error", err)
}

func (s *Session) stop(it item.Item, reason string) {
	key := it.Key()
	s.StoppedAt = &key
	slog.Debug("Reached known items, stopping",
		"collector", s.name,
		"id", it.ID,
		"reason", reason,
		"added", s.Added)
}

// Result summarizes a finished run.
type Result struct {
	Name     string
	Added    int
	Updated  int
	Skipped  int
	Stopped  bool
	Duration time.Duration
	Err      error
}

// Sync runs one collector end to end: it resolves the initial parameters from
// the store, drives the run and reports the counters. Errors are returned in
// the result as well so callers can aggregate them.
func Sync(ctx context.Context, c Collector, store Store, refresh bool) Result {
	start := time.Now()
	result := Result{Name: c.Name()}

	params, err := c.InitialParameters(ctx, store, refresh)
	if err != nil {
		result.Err = fmt.Errorf("failed to compute initial parameters: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	slog.Debug("Running collector", "collector", c.Name(), "refresh", params.Refresh, "since", params.Since)

	session := NewSession(store, c.Name(), params)
	if err := c.Run(ctx, session); err != nil {
		result.Err = err
	}

	result.Added = session.Added
	result.Updated = session.Updated
	result.Skipped = session.Skipped
	result.Stopped = session.Stopped()
	result.Duration = time.Since(start)

	return result
}
