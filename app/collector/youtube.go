package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2/google"

	"github.com/flatdario/flat/app/item"
)

const (
	youtubeBaseURL       = "https://www.googleapis.com"
	youtubeReadonlyScope = "https://www.googleapis.com/auth/youtube.readonly"
)

// YouTubeList selects the related playlist of the user's channel.
type YouTubeList string

const (
	YouTubeLikes   YouTubeList = "likes"
	YouTubeUploads YouTubeList = "uploads"
)

func (l YouTubeList) subtype() string {
	if l == YouTubeUploads {
		return "upload"
	}
	return "like"
}

// ClientSource hands out an authorized HTTP client.
type ClientSource interface {
	Client(ctx context.Context) (*http.Client, error)
}

// YouTube collects the videos of one of the user's related playlists.
type YouTube struct {
	BaseURL  string
	list     YouTubeList
	pageSize int
	auth     ClientSource
	fetcher  *Fetcher
}

func NewYouTube(list YouTubeList, pageSize int, auth ClientSource, fetcher *Fetcher) *YouTube {
	return &YouTube{
		BaseURL:  youtubeBaseURL,
		list:     list,
		pageSize: pageSize,
		auth:     auth,
		fetcher:  fetcher,
	}
}

// NewGoogleSource builds the OAuth2 source from the Google client secrets in
// appkeys/google.json.
func NewGoogleSource(keys KeyStore, authorizer Authorizer, client *http.Client) (*OAuth2Source, error) {
	secrets, err := keys.AppSecrets("google")
	if err != nil {
		return nil, err
	}

	config, err := google.ConfigFromJSON(secrets, youtubeReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid google client secrets: %v", ErrAuth, err)
	}

	return &OAuth2Source{
		Name:       "google",
		Config:     config,
		Keys:       keys,
		Authorizer: authorizer,
		HTTPClient: client,
	}, nil
}

func (y *YouTube) Name() string {
	return "youtube-" + string(y.list)
}

func (y *YouTube) Type() item.Type {
	return item.TypeYoutube
}

// InitialParameters computes no cursor: likes, uploads and manually added
// videos share the Youtube type, so each list relies on the duplicate stop.
func (y *YouTube) InitialParameters(ctx context.Context, store Store, refresh bool) (Params, error) {
	return noCursor(refresh), nil
}

type youtubeChannels struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists map[string]string `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type youtubeThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type youtubePlaylistItems struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			Title       string                      `json:"title"`
			Description string                      `json:"description"`
			PublishedAt string                      `json:"publishedAt"`
			Thumbnails  map[string]youtubeThumbnail `json:"thumbnails"`
			ResourceID  struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
		Status struct {
			PrivacyStatus string `json:"privacyStatus"`
		} `json:"status"`
	} `json:"items"`
}

func (y *YouTube) Run(ctx context.Context, s *Session) error {
	client, err := y.auth.Client(ctx)
	if err != nil {
		return err
	}
	api := y.fetcher.WithClient(client)

	var channels youtubeChannels
	channelsURL := y.BaseURL + "/youtube/v3/channels?" + url.Values{
		"mine": {"true"},
		"part": {"contentDetails"},
	}.Encode()
	if err := api.GetJSON(ctx, channelsURL, nil, &channels); err != nil {
		return y.wrap(err)
	}

	for _, channel := range channels.Items {
		listID := channel.ContentDetails.RelatedPlaylists[string(y.list)]
		if listID == "" {
			continue
		}
		if err := y.runPlaylist(ctx, api, s, listID); err != nil {
			return err
		}
		if s.Stopped() {
			return nil
		}
	}

	return nil
}

func (y *YouTube) runPlaylist(ctx context.Context, api *Fetcher, s *Session, listID string) error {
	pageToken := ""
	for {
		query := url.Values{
			"playlistId": {listID},
			"part":       {"snippet,status"},
			"maxResults": {strconv.Itoa(y.pageSize)},
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page youtubePlaylistItems
		if err := api.GetJSON(ctx, y.BaseURL+"/youtube/v3/playlistItems?"+query.Encode(), nil, &page); err != nil {
			return y.wrap(err)
		}

		for _, entry := range page.Items {
			if p := entry.Status.PrivacyStatus; p == "private" || p == "unlisted" {
				continue
			}
			snippet := entry.Snippet
			videoID := snippet.ResourceID.VideoID
			if len(snippet.Thumbnails) == 0 {
				continue
			}

			it := item.Item{
				ID:    videoID,
				Type:  item.TypeYoutube,
				URL:   "https://www.youtube.com/watch?v=" + videoID,
				Title: snippet.Title,
			}
			if ts, err := item.ParseTimestamp(snippet.PublishedAt); err == nil {
				it.Timestamp = ts
			}
			it.SetExtra("subtype", y.list.subtype())
			it.SetExtra("description", snippet.Description)
			it.SetExtra("thumbnails", snippet.Thumbnails)
			if medium, ok := snippet.Thumbnails["medium"]; ok && medium.URL != "" {
				it.SetThumb(medium.URL)
			}

			stop, err := s.Save(ctx, it)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}

		if page.NextPageToken == "" || len(page.Items) < y.pageSize {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (y *YouTube) wrap(err error) error {
	var status *StatusError
	if errors.As(err, &status) && status.Unauthorized() {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return fmt.Errorf("failed to query youtube: %w", err)
}
