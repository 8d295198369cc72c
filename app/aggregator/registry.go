package aggregator

import (
	"context"
	"log/slog"

	"github.com/flatdario/flat/app/cfg"
	"github.com/flatdario/flat/app/collector"
	"github.com/flatdario/flat/app/item"
)

// Deps are the shared resources handed to every collector.
type Deps struct {
	Keys       collector.KeyStore
	Authorizer collector.Authorizer
	Fetcher    *collector.Fetcher
}

// Registry builds the collectors enabled in sources, in batch order:
// YouTube likes, YouTube uploads, Pocket, Vimeo, then RSS feeds and Tumblr
// blogs in file order. A collector whose credentials cannot be loaded is kept
// in the list and fails when run, so the batch reports it.
func Registry(sources *cfg.Sources, deps Deps) []collector.Collector {
	var collectors []collector.Collector

	if sources.YouTube.Likes || sources.YouTube.Uploads {
		google, err := collector.NewGoogleSource(deps.Keys, deps.Authorizer, deps.Fetcher.Client())
		lists := []struct {
			enabled bool
			list    collector.YouTubeList
		}{
			{sources.YouTube.Likes, collector.YouTubeLikes},
			{sources.YouTube.Uploads, collector.YouTubeUploads},
		}
		for _, l := range lists {
			if !l.enabled {
				continue
			}
			yt := collector.NewYouTube(l.list, sources.YouTube.PageSize, google, deps.Fetcher)
			if err != nil {
				collectors = append(collectors, unavailable{name: yt.Name(), typ: yt.Type(), err: err})
				continue
			}
			collectors = append(collectors, yt)
		}
	}

	if sources.Pocket.Enabled {
		collectors = append(collectors, collector.NewPocket(sources.Pocket.PageSize, deps.Keys, deps.Authorizer, deps.Fetcher))
	}

	if sources.Vimeo.Enabled {
		vimeoAuth, err := collector.NewVimeoSource(deps.Keys, deps.Authorizer, deps.Fetcher.Client())
		if err != nil {
			collectors = append(collectors, unavailable{name: "vimeo", typ: item.TypeVimeo, err: err})
		} else {
			collectors = append(collectors, collector.NewVimeo(sources.Vimeo.PageSize, vimeoAuth, deps.Fetcher))
		}
	}

	for _, feed := range sources.RSS {
		if !feed.IsEnabled() {
			slog.Debug("Feed disabled, skipping", "url", feed.URL)
			continue
		}
		collectors = append(collectors, collector.NewRSS(feed.URL, deps.Fetcher))
	}

	for _, blog := range sources.Tumblr {
		if !blog.IsEnabled() {
			slog.Debug("Blog disabled, skipping", "url", blog.URL)
			continue
		}
		collectors = append(collectors, collector.NewTumblr(blog.URL, blog.PageSize, deps.Fetcher))
	}

	return collectors
}

// unavailable stands in for a collector that could not be configured.
type unavailable struct {
	name string
	typ  item.Type
	err  error
}

func (u unavailable) Name() string   { return u.name }
func (u unavailable) Type() item.Type { return u.typ }

func (u unavailable) InitialParameters(context.Context, collector.Store, bool) (collector.Params, error) {
	return collector.Params{}, u.err
}

func (u unavailable) Run(context.Context, *collector.Session) error {
	return u.err
}
