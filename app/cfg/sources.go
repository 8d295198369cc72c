package cfg

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultYouTubePageSize = 50
	defaultPocketPageSize  = 30
	defaultVimeoPageSize   = 50
	defaultTumblrPageSize  = 50

	maxYouTubePageSize = 50
	maxVimeoPageSize   = 100
	maxTumblrPageSize  = 50
)

// Sources lists the upstreams a batch collects from.
type Sources struct {
	YouTube YouTubeSource  `yaml:"youtube"`
	Pocket  SourceSettings `yaml:"pocket"`
	Vimeo   SourceSettings `yaml:"vimeo"`
	RSS     []FeedSource   `yaml:"rss"`
	Tumblr  []FeedSource   `yaml:"tumblr"`
}

type YouTubeSource struct {
	Likes    bool `yaml:"likes"`
	Uploads  bool `yaml:"uploads"`
	PageSize int  `yaml:"page_size"`
}

type SourceSettings struct {
	Enabled  bool `yaml:"enabled"`
	PageSize int  `yaml:"page_size"`
}

// FeedSource is one RSS feed or Tumblr blog. Feeds are enabled unless
// explicitly disabled.
type FeedSource struct {
	URL      string `yaml:"url"`
	Enabled  *bool  `yaml:"enabled"`
	PageSize int    `yaml:"page_size"`
}

func (f FeedSource) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// LoadSources reads the sources file. A missing file yields no sources.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Warn("Sources file not found, no collector enabled", "path", path)
		return &Sources{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return ParseSources(data)
}

func ParseSources(data []byte) (*Sources, error) {
	var sources Sources
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	sources.setDefaults()

	if err := sources.validate(); err != nil {
		return nil, err
	}

	return &sources, nil
}

func (s *Sources) setDefaults() {
	if s.YouTube.PageSize == 0 {
		s.YouTube.PageSize = defaultYouTubePageSize
	}
	if s.Pocket.PageSize == 0 {
		s.Pocket.PageSize = defaultPocketPageSize
	}
	if s.Vimeo.PageSize == 0 {
		s.Vimeo.PageSize = defaultVimeoPageSize
	}
	for i := range s.Tumblr {
		if s.Tumblr[i].PageSize == 0 {
			s.Tumblr[i].PageSize = defaultTumblrPageSize
		}
	}
}

func (s *Sources) validate() error {
	pageSizes := map[string][2]int{
		"youtube page size": {s.YouTube.PageSize, maxYouTubePageSize},
		"pocket page size":  {s.Pocket.PageSize, 0},
		"vimeo page size":   {s.Vimeo.PageSize, maxVimeoPageSize},
	}
	for name, v := range pageSizes {
		if v[0] < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
		if v[1] > 0 && v[0] > v[1] {
			return fmt.Errorf("%s must be at most %d", name, v[1])
		}
	}

	for i, feed := range s.RSS {
		if err := validateURL(feed.URL); err != nil {
			return fmt.Errorf("invalid rss feed at index %d: %w", i, err)
		}
	}
	for i, blog := range s.Tumblr {
		if err := validateURL(blog.URL); err != nil {
			return fmt.Errorf("invalid tumblr blog at index %d: %w", i, err)
		}
		if blog.PageSize < 0 || blog.PageSize > maxTumblrPageSize {
			return fmt.Errorf("tumblr blog at index %d: page size must be between 1 and %d", i, maxTumblrPageSize)
		}
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	return nil
}
