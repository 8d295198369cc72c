package site

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flatdario/flat/app/item"
)

type Store interface {
	All(ctx context.Context) ([]item.Item, error)
}

// Builder writes the static output: items.json and feed.xml.
type Builder struct {
	store     Store
	dir       string
	generator *Generator
}

func NewBuilder(store Store, dir string, generator *Generator) *Builder {
	return &Builder{store: store, dir: dir, generator: generator}
}

// Visible returns the items to publish, newest first.
func Visible(items []item.Item) []item.Item {
	visible := make([]item.Item, 0, len(items))
	for _, it := range items {
		if !it.Hidden {
			visible = append(visible, it)
		}
	}
	return visible
}

// Build renders the store into the output directory and returns the number of
// published items.
func (b *Builder) Build(ctx context.Context) (int, error) {
	items, err := b.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load items: %w", err)
	}
	items = Visible(items)

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode items: %w", err)
	}
	if err := writeFile(filepath.Join(b.dir, "items.json"), data); err != nil {
		return 0, err
	}

	rss, err := b.generator.Run(items)
	if err != nil {
		return 0, fmt.Errorf("failed to generate feed: %w", err)
	}
	if err := writeFile(filepath.Join(b.dir, "feed.xml"), []byte(rss)); err != nil {
		return 0, err
	}

	slog.Info("Site built", "dir", b.dir, "items", len(items))
	return len(items), nil
}

// writeFile replaces path through a rename so readers never see a partial file.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
