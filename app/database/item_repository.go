package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/flatdario/flat/app/item"
)

// ErrDuplicateFound is returned by Insert when the (id, type) pair is already stored.
var ErrDuplicateFound = errors.New("duplicate item")

const itemColumns = `id, type, url, title, timestamp, thumb, extra, hidden`

// ItemRepository handles database operations for aggregated items
type ItemRepository struct {
	db *DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Insert stores a new item. An existing (id, type) pair yields ErrDuplicateFound
// and leaves the stored row untouched.
func (r *ItemRepository) Insert(ctx context.Context, it item.Item) error {
	it = item.Normalize(it)
	if err := it.Validate(); err != nil {
		return err
	}

	extra, err := encodeExtra(it.Extra)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO items (id, type, url, title, timestamp, thumb, extra, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, string(it.Type), it.URL, it.Title, formatTime(it.Timestamp),
		nullString(it.Thumb), extra, it.Hidden)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateFound, it.Type, it.ID)
		}
		return fmt.Errorf("failed to insert item: %w", err)
	}

	return nil
}

// Upsert inserts the item, or replaces the stored fields when update is set.
// Without update an existing pair is reported as UpsertExists and nothing is written.
// The hidden flag is administrative and survives updates; a nil thumb keeps the
// resolved one.
func (r *ItemRepository) Upsert(ctx context.Context, it item.Item, update bool) (UpsertResult, error) {
	if !update {
		err := r.Insert(ctx, it)
		switch {
		case err == nil:
			return UpsertInserted, nil
		case errors.Is(err, ErrDuplicateFound):
			return UpsertExists, nil
		default:
			return 0, err
		}
	}

	it = item.Normalize(it)
	if err := it.Validate(); err != nil {
		return 0, err
	}

	extra, err := encodeExtra(it.Extra)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE id = ? AND type = ?`,
		it.ID, string(it.Type)).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing item: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (id, type, url, title, timestamp, thumb, extra, hidden)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, type) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			timestamp = excluded.timestamp,
			thumb = excluded.thumb,
			extra = excluded.extra
	`, it.ID, string(it.Type), it.URL, it.Title, formatTime(it.Timestamp),
		nullString(it.Thumb), extra, it.Hidden)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}

	if exists > 0 {
		return UpsertUpdated, nil
	}
	return UpsertInserted, nil
}

// Get returns the item with the given identity, or nil when it is not stored.
func (r *ItemRepository) Get(ctx context.Context, id string, typ item.Type) (*item.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ? AND type = ?`, id, string(typ))

	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return &it, nil
}

// All returns every stored item, newest first. Ties are broken by type and id
// so the order is stable across runs.
func (r *ItemRepository) All(ctx context.Context) ([]item.Item, error) {
	return r.List(ctx, ItemQuery{IncludeHidden: true})
}

// List returns items matching the query, newest first.
func (r *ItemRepository) List(ctx context.Context, q ItemQuery) ([]item.Item, error) {
	var (
		where []string
		args  []any
	)
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.Since != nil {
		where = append(where, "timestamp > ?")
		args = append(args, formatTime(*q.Since))
	}
	if !q.IncludeHidden {
		where = append(where, "hidden = 0")
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, type, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// MaxTimestamp returns the newest timestamp stored for a source, or nil when
// the source has no items yet.
func (r *ItemRepository) MaxTimestamp(ctx context.Context, typ item.Type) (*time.Time, error) {
	var latest sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM items WHERE type = ?`, string(typ)).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to get max timestamp: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}

	t, err := parseTime(latest.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored timestamp %q: %w", latest.String, err)
	}
	return &t, nil
}

// MissingThumb returns the items whose thumbnail was never looked up.
func (r *ItemRepository) MissingThumb(ctx context.Context) ([]item.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE thumb IS NULL
		ORDER BY timestamp DESC, type, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get items without thumbnail: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// SetEnrichment records the resolved title and thumbnail of a stored item and
// reports whether it still exists. An empty thumb marks a failed lookup.
func (r *ItemRepository) SetEnrichment(ctx context.Context, id string, typ item.Type, title, thumb string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE items SET title = ?, thumb = ? WHERE id = ? AND type = ?`, title, thumb, id, string(typ))
	if err != nil {
		return false, fmt.Errorf("failed to set enrichment: %w", err)
	}
	return affected(res)
}

// SetHidden toggles the hidden flag and reports whether the item exists.
func (r *ItemRepository) SetHidden(ctx context.Context, id string, typ item.Type, hidden bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE items SET hidden = ? WHERE id = ? AND type = ?`, hidden, id, string(typ))
	if err != nil {
		return false, fmt.Errorf("failed to update hidden flag: %w", err)
	}
	return affected(res)
}

// Delete removes an item and reports whether it existed.
func (r *ItemRepository) Delete(ctx context.Context, id string, typ item.Type) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM items WHERE id = ? AND type = ?`, id, string(typ))
	if err != nil {
		return false, fmt.Errorf("failed to delete item: %w", err)
	}
	return affected(res)
}

// CountByType returns the number of stored items per source.
func (r *ItemRepository) CountByType(ctx context.Context) (map[item.Type]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM items GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[item.Type]int)
	for rows.Next() {
		var (
			typ   string
			count int
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[item.Type(typ)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", err)
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (item.Item, error) {
	var (
		it        item.Item
		typ       string
		timestamp string
		thumb     sql.NullString
		extra     sql.NullString
	)
	if err := row.Scan(&it.ID, &typ, &it.URL, &it.Title, &timestamp, &thumb, &extra, &it.Hidden); err != nil {
		return item.Item{}, err
	}

	it.Type = item.Type(typ)

	t, err := parseTime(timestamp)
	if err != nil {
		return item.Item{}, fmt.Errorf("failed to parse stored timestamp %q: %w", timestamp, err)
	}
	it.Timestamp = t

	if thumb.Valid {
		it.SetThumb(thumb.String)
	}

	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &it.Extra); err != nil {
			return item.Item{}, fmt.Errorf("failed to decode extra for %s/%s: %w", typ, it.ID, err)
		}
	}

	return it, nil
}

func scanItems(rows *sql.Rows) ([]item.Item, error) {
	var items []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

func encodeExtra(extra item.Extra) (sql.NullString, error) {
	if len(extra) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode extra: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}
