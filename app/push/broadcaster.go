package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flatdario/flat/app/database"
	"github.com/flatdario/flat/app/item"
)

type Subscriptions interface {
	ActiveSubscriptions(ctx context.Context) ([]database.Subscription, error)
	SetLastNotification(ctx context.Context, payload string) error
	Invalidate(ctx context.Context, payload string) error
}

type Items interface {
	List(ctx context.Context, q database.ItemQuery) ([]item.Item, error)
}

// Notification is the JSON payload the service worker displays.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Count int    `json:"count"`
}

// Broadcaster fans notifications out to every active subscription. A failed
// delivery is logged and skipped; an expired subscription is invalidated.
type Broadcaster struct {
	subs   Subscriptions
	items  Items
	sender Sender
}

func NewBroadcaster(subs Subscriptions, items Items, sender Sender) *Broadcaster {
	return &Broadcaster{subs: subs, items: items, sender: sender}
}

// Broadcast sends the same notification to all active subscriptions and
// returns how many deliveries succeeded.
func (b *Broadcaster) Broadcast(ctx context.Context, n Notification) (int, error) {
	subs, err := b.subs.ActiveSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("failed to encode notification: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		if b.deliver(ctx, sub, payload) {
			sent++
		}
	}

	slog.Info("Broadcast completed", "subscriptions", len(subs), "sent", sent)
	return sent, nil
}

// SendMissing notifies each subscription of the items published since its
// last notification, or since it subscribed.
func (b *Broadcaster) SendMissing(ctx context.Context) (int, error) {
	subs, err := b.subs.ActiveSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		since := sub.Since()
		items, err := b.items.List(ctx, database.ItemQuery{Since: &since})
		if err != nil {
			return sent, fmt.Errorf("failed to list items since %s: %w", since.Format(time.RFC3339), err)
		}
		if len(items) == 0 {
			slog.Debug("Nothing new for subscription", "subscription_id", sub.ID, "since", since)
			continue
		}

		payload, err := json.Marshal(Summarize(items))
		if err != nil {
			return sent, fmt.Errorf("failed to encode notification: %w", err)
		}
		if b.deliver(ctx, sub, payload) {
			sent++
		}
	}

	slog.Info("Missing notifications sent", "subscriptions", len(subs), "sent", sent)
	return sent, nil
}

// Summarize builds the notification for a list of new items, newest first.
func Summarize(items []item.Item) Notification {
	newest := items[0]
	n := Notification{
		Title: newest.Title,
		URL:   newest.URL,
		Icon:  newest.ThumbURL(),
		Count: len(items),
	}
	if len(items) == 1 {
		n.Body = fmt.Sprintf("New %s item", newest.Type)
	} else {
		n.Body = fmt.Sprintf("%d new items", len(items))
	}
	return n
}

func (b *Broadcaster) deliver(ctx context.Context, sub database.Subscription, payload []byte) bool {
	err := b.sender.Send(ctx, sub.Subscription, payload)
	if errors.Is(err, ErrGone) {
		slog.Warn("Subscription expired, invalidating", "subscription_id", sub.ID, "error", err)
		if err := b.subs.Invalidate(ctx, sub.Subscription); err != nil {
			slog.Error("Failed to invalidate subscription", "subscription_id", sub.ID, "error", err)
		}
		return false
	}
	if err != nil {
		slog.Warn("Notification delivery failed", "subscription_id", sub.ID, "error", err)
		return false
	}

	if err := b.subs.SetLastNotification(ctx, sub.Subscription); err != nil {
		slog.Error("Failed to record notification", "subscription_id", sub.ID, "error", err)
	}
	return true
}
