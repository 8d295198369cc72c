package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flatdario/flat/app/database"
	"github.com/flatdario/flat/app/item"
)

// ErrAuth wraps every failure of an authentication step. It aborts the
// collector that hit it, never the batch.
var ErrAuth = errors.New("authentication failed")

// Store is the part of the item store a collector run needs.
type Store interface {
	Upsert(ctx context.Context, it item.Item, update bool) (database.UpsertResult, error)
	MaxTimestamp(ctx context.Context, typ item.Type) (*time.Time, error)
}

// Params configure one collector run.
type Params struct {
	// Refresh rewrites every record with update semantics and disables the
	// early stop on known items.
	Refresh bool
	// Since is the resume cursor: the newest timestamp already stored for the
	// source. Nil when refreshing or when the source has nothing stored yet.
	Since *time.Time
}

// Collector drives one upstream source. Run pages through the source in
// reverse chronological order, handing every record to the session, and
// returns as soon as the session asks it to stop.
type Collector interface {
	Name() string
	Type() item.Type
	InitialParameters(ctx context.Context, store Store, refresh bool) (Params, error)
	Run(ctx context.Context, s *Session) error
}

// cursorParams resolves the resume cursor from the newest stored item of typ.
func cursorParams(ctx context.Context, store Store, typ item.Type, refresh bool) (Params, error) {
	params := Params{Refresh: refresh}
	if refresh {
		return params, nil
	}

	since, err := store.MaxTimestamp(ctx, typ)
	if err != nil {
		return Params{}, fmt.Errorf("failed to resolve resume cursor: %w", err)
	}
	params.Since = since

	return params, nil
}

// noCursor is used by sources that share their type between several
// upstreams (every feed is RSS), where a type wide cursor would skip items of
// a slower feed. They rely on the duplicate stop alone.
func noCursor(refresh bool) Params {
	return Params{Refresh: refresh}
}
