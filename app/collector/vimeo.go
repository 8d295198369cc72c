package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/flatdario/flat/app/item"
)

const vimeoBaseURL = "https://api.vimeo.com"

type vimeoAppSecrets struct {
	ClientID      string `json:"clientID"`
	ClientSecrets string `json:"clientSecrets"`
}

// NewVimeoSource builds the OAuth2 source from appkeys/vimeo.json.
func NewVimeoSource(keys KeyStore, authorizer Authorizer, client *http.Client) (*OAuth2Source, error) {
	raw, err := keys.AppSecrets("vimeo")
	if err != nil {
		return nil, err
	}

	var secrets vimeoAppSecrets
	if err := json.Unmarshal(raw, &secrets); err != nil || secrets.ClientID == "" {
		return nil, fmt.Errorf("%w: invalid vimeo API secrets", ErrAuth)
	}

	return &OAuth2Source{
		Name: "vimeo",
		Config: &oauth2.Config{
			ClientID:     secrets.ClientID,
			ClientSecret: secrets.ClientSecrets,
			Scopes:       []string{"public", "private"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  vimeoBaseURL + "/oauth/authorize",
				TokenURL: vimeoBaseURL + "/oauth/access_token",
			},
		},
		Keys:       keys,
		Authorizer: authorizer,
		HTTPClient: client,
	}, nil
}

// Vimeo collects the videos the user liked, newest like first.
type Vimeo struct {
	BaseURL  string
	pageSize int
	auth     ClientSource
	fetcher  *Fetcher
}

func NewVimeo(pageSize int, auth ClientSource, fetcher *Fetcher) *Vimeo {
	return &Vimeo{
		BaseURL:  vimeoBaseURL,
		pageSize: pageSize,
		auth:     auth,
		fetcher:  fetcher,
	}
}

func (v *Vimeo) Name() string {
	return "vimeo"
}

func (v *Vimeo) Type() item.Type {
	return item.TypeVimeo
}

func (v *Vimeo) InitialParameters(ctx context.Context, store Store, refresh bool) (Params, error) {
	return cursorParams(ctx, store, item.TypeVimeo, refresh)
}

type vimeoPicture struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Link   string `json:"link"`
}

type vimeoVideo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Pictures    struct {
		Sizes []vimeoPicture `json:"sizes"`
	} `json:"pictures"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Metadata struct {
		Interactions struct {
			Like struct {
				Added     bool   `json:"added"`
				AddedTime string `json:"added_time"`
			} `json:"like"`
		} `json:"interactions"`
	} `json:"metadata"`
}

type vimeoPage struct {
	Data   []vimeoVideo `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

var vimeoHeaders = http.Header{"Accept": {"application/vnd.vimeo.*+json;version=3.4"}}

func (v *Vimeo) Run(ctx context.Context, s *Session) error {
	client, err := v.auth.Client(ctx)
	if err != nil {
		return err
	}
	api := v.fetcher.WithClient(client)

	next := "/me/likes?" + url.Values{"per_page": {strconv.Itoa(v.pageSize)}}.Encode()
	for next != "" {
		var page vimeoPage
		if err := api.GetJSON(ctx, v.resolve(next), vimeoHeaders, &page); err != nil {
			var status *StatusError
			if errors.As(err, &status) && status.Unauthorized() {
				return fmt.Errorf("%w: %v", ErrAuth, err)
			}
			return fmt.Errorf("failed to query vimeo: %w", err)
		}

		for _, video := range page.Data {
			stop, err := s.Save(ctx, v.toItem(video))
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}

		if len(page.Data) < v.pageSize {
			return nil
		}
		next = page.Paging.Next
	}

	return nil
}

func (v *Vimeo) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(v.BaseURL, "/") + path
}

func (v *Vimeo) toItem(video vimeoVideo) item.Item {
	it := item.Item{
		ID:    video.URI,
		Type:  item.TypeVimeo,
		URL:   video.Link,
		Title: video.Name,
	}

	like := video.Metadata.Interactions.Like
	if ts, err := item.ParseTimestamp(like.AddedTime); err == nil {
		it.Timestamp = ts
	}

	it.SetExtra("description", video.Description)
	if len(video.Pictures.Sizes) > 0 {
		it.SetExtra("thumbnails", video.Pictures.Sizes)
	}

	tags := make([]string, 0, len(video.Tags))
	for _, t := range video.Tags {
		tags = append(tags, t.Name)
	}
	if len(tags) > 0 {
		it.SetExtra("tags", tags)
	}

	return it
}
