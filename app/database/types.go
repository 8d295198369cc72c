package database

import (
	"context"
	"time"

	"github.com/flatdario/flat/app/item"
)

// UpsertResult tells a caller what an upsert did. UpsertExists is not a
// failure: it is the signal that the (id, type) pair is already stored and no
// update was requested.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota + 1
	UpsertUpdated
	UpsertExists
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	case UpsertExists:
		return "exists"
	default:
		return "unknown"
	}
}

// ItemQuery filters List results. Zero values mean no filtering.
type ItemQuery struct {
	Type          item.Type
	Since         *time.Time
	Limit         int
	IncludeHidden bool
}

type ItemStore interface {
	Upsert(ctx context.Context, it item.Item, update bool) (UpsertResult, error)
	Get(ctx context.Context, id string, typ item.Type) (*item.Item, error)
	All(ctx context.Context) ([]item.Item, error)
	List(ctx context.Context, q ItemQuery) ([]item.Item, error)
	MaxTimestamp(ctx context.Context, typ item.Type) (*time.Time, error)
	MissingThumb(ctx context.Context) ([]item.Item, error)
	SetEnrichment(ctx context.Context, id string, typ item.Type, title, thumb string) (bool, error)

	SetHidden(ctx context.Context, id string, typ item.Type, hidden bool) (bool, error)
	Delete(ctx context.Context, id string, typ item.Type) (bool, error)
	CountByType(ctx context.Context) (map[item.Type]int, error)
}

type SubscriptionStore interface {
	Create(ctx context.Context, payload, userAgent string) (*Subscription, error)
	ActiveSubscriptions(ctx context.Context) ([]Subscription, error)
	SetLastNotification(ctx context.Context, payload string) error
	Invalidate(ctx context.Context, payload string) error
	Delete(ctx context.Context, payload string) (bool, error)
}
