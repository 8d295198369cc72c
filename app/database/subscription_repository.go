package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SubscriptionRepository handles database operations for push subscriptions
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Create registers a subscription. Registering a known payload again
// reactivates it and restarts its notification window.
func (r *SubscriptionRepository) Create(ctx context.Context, payload, userAgent string) (*Subscription, error) {
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (subscription, user_agent, subscription_date)
		VALUES (?, ?, ?)
		ON CONFLICT (subscription) DO UPDATE SET
			user_agent = excluded.user_agent,
			subscription_date = excluded.subscription_date,
			last_notification = NULL,
			invalidation_date = NULL
	`, payload, userAgent, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, subscription, COALESCE(user_agent, ''), subscription_date,
		       last_notification, invalidation_date
		FROM subscriptions WHERE subscription = ?
	`, payload)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription: %w", err)
	}
	return &sub, nil
}

// ActiveSubscriptions returns the subscriptions that were not invalidated.
func (r *SubscriptionRepository) ActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subscription, COALESCE(user_agent, ''), subscription_date,
		       last_notification, invalidation_date
		FROM subscriptions
		WHERE invalidation_date IS NULL
		ORDER BY subscription_date, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}

	return subs, nil
}

func (r *SubscriptionRepository) SetLastNotification(ctx context.Context, payload string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_notification = ? WHERE subscription = ?`,
		formatTime(time.Now()), payload)
	if err != nil {
		return fmt.Errorf("failed to update last notification: %w", err)
	}
	return nil
}

// Invalidate marks a subscription the push service no longer accepts.
func (r *SubscriptionRepository) Invalidate(ctx context.Context, payload string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET invalidation_date = ? WHERE subscription = ? AND invalidation_date IS NULL`,
		formatTime(time.Now()), payload)
	if err != nil {
		return fmt.Errorf("failed to invalidate subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) Delete(ctx context.Context, payload string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE subscription = ?`, payload)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	return affected(res)
}

func scanSubscription(row rowScanner) (Subscription, error) {
	var (
		sub          Subscription
		subscribed   string
		lastNotified sql.NullString
		invalidated  sql.NullString
	)
	err := row.Scan(&sub.ID, &sub.Subscription, &sub.UserAgent, &subscribed, &lastNotified, &invalidated)
	if err != nil {
		return Subscription{}, err
	}

	if sub.SubscriptionDate, err = parseTime(subscribed); err != nil {
		return Subscription{}, err
	}
	if sub.LastNotification, err = parseNullTime(lastNotified); err != nil {
		return Subscription{}, err
	}
	if sub.InvalidationDate, err = parseNullTime(invalidated); err != nil {
		return Subscription{}, err
	}

	return sub, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
