package api

import (
	"context"

	"github.com/flatdario/flat/app/database"
	"github.com/flatdario/flat/app/item"
	"github.com/flatdario/flat/app/push"
	"github.com/flatdario/flat/app/site"
)

type GeneratorInterface interface {
	Run(items []item.Item) (string, error)
}

var _ GeneratorInterface = (*site.Generator)(nil)

// ItemBuilder describes an ad-hoc URL as an item.
type ItemBuilder interface {
	Build(ctx context.Context, rawURL string) (item.Item, error)
}

// BatchTrigger requests an out of schedule collection batch.
type BatchTrigger interface {
	Trigger() bool
}

// Notifier sends the pending push notifications, or an announcement to every
// subscriber.
type Notifier interface {
	SendMissing(ctx context.Context) (int, error)
	Broadcast(ctx context.Context, n push.Notification) (int, error)
}

type Handler struct {
	items     database.ItemStore
	subs      database.SubscriptionStore
	generator GeneratorInterface
	builder   ItemBuilder
	scheduler BatchTrigger
	notifier  Notifier
	vapidKey  string
}

// itemUpdate is the body of a full item update. Identity comes from the path.
type itemUpdate struct {
	URL       string     `json:"url" binding:"required"`
	Title     string     `json:"title"`
	Timestamp string     `json:"timestamp" binding:"required"`
	Thumb     *string    `json:"thumb"`
	Extra     item.Extra `json:"extra"`
}

// notifyRequest carries an announcement. An empty body sends the pending
// item notifications instead.
type notifyRequest struct {
	Title   string `json:"title"`
	Message string `json:"message" binding:"required"`
	URL     string `json:"url"`
}

type addRequest struct {
	URL string `json:"url" binding:"required"`
}
