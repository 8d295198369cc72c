package collector

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/flatdario/flat/app/item"
)

const pocketBaseURL = "https://getpocket.com"

type pocketAppSecrets struct {
	ConsumerKey string `json:"consumer_key"`
}

type pocketUserSecrets struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username,omitempty"`
}

// Pocket collects the archived articles of the user. Pocket runs its own
// three step token flow rather than standard OAuth2.
type Pocket struct {
	BaseURL    string
	pageSize   int
	keys       KeyStore
	authorizer Authorizer
	fetcher    *Fetcher
}

func NewPocket(pageSize int, keys KeyStore, authorizer Authorizer, fetcher *Fetcher) *Pocket {
	return &Pocket{
		BaseURL:    pocketBaseURL,
		pageSize:   pageSize,
		keys:       keys,
		authorizer: authorizer,
		fetcher:    fetcher,
	}
}

func (p *Pocket) Name() string {
	return "pocket"
}

func (p *Pocket) Type() item.Type {
	return item.TypePocket
}

// InitialParameters asks Pocket only for what changed after the newest stored article.
func (p *Pocket) InitialParameters(ctx context.Context, store Store, refresh bool) (Params, error) {
	return cursorParams(ctx, store, item.TypePocket, refresh)
}

var pocketHeaders = http.Header{"X-Accept": {"application/json"}}

// authenticate returns the consumer key and the user access token, running the
// authorization flow when no token is stored.
func (p *Pocket) authenticate(ctx context.Context) (string, string, error) {
	raw, err := p.keys.AppSecrets("pocket")
	if err != nil {
		return "", "", err
	}
	var app pocketAppSecrets
	if err := json.Unmarshal(raw, &app); err != nil || app.ConsumerKey == "" {
		return "", "", fmt.Errorf("%w: invalid pocket API secrets", ErrAuth)
	}

	var user pocketUserSecrets
	found, err := p.keys.LoadUser("pocket", &user)
	if err != nil {
		return "", "", err
	}
	if found && user.AccessToken != "" {
		return app.ConsumerKey, user.AccessToken, nil
	}

	if p.authorizer == nil {
		return "", "", fmt.Errorf("%w: no stored pocket token", ErrAuth)
	}

	var requestToken string
	_, err = p.authorizer.Authorize(ctx, func(ctx context.Context, redirectURI, state string) (string, error) {
		if redirectURI == "" {
			redirectURI = p.BaseURL
		} else {
			redirectURI += "?" + url.Values{"state": {state}}.Encode()
		}

		var resp struct {
			Code string `json:"code"`
		}
		err := p.fetcher.PostJSON(ctx, p.BaseURL+"/v3/oauth/request", pocketHeaders, map[string]string{
			"consumer_key": app.ConsumerKey,
			"redirect_uri": redirectURI,
		}, &resp)
		if err != nil {
			return "", fmt.Errorf("%w: pocket request token: %v", ErrAuth, err)
		}
		requestToken = resp.Code

		return p.BaseURL + "/auth/authorize?" + url.Values{
			"request_token": {requestToken},
			"redirect_uri":  {redirectURI},
		}.Encode(), nil
	})
	if err != nil {
		return "", "", err
	}

	err = p.fetcher.PostJSON(ctx, p.BaseURL+"/v3/oauth/authorize", pocketHeaders, map[string]string{
		"consumer_key": app.ConsumerKey,
		"code":         requestToken,
	}, &user)
	if err != nil {
		return "", "", fmt.Errorf("%w: pocket access token: %v", ErrAuth, err)
	}
	if user.AccessToken == "" {
		return "", "", fmt.Errorf("%w: pocket returned no access token", ErrAuth)
	}

	if err := p.keys.SaveUser("pocket", user); err != nil {
		return "", "", err
	}
	return app.ConsumerKey, user.AccessToken, nil
}

type pocketMedia struct {
	Src string `json:"src"`
}

type pocketRecord struct {
	ItemID        string                 `json:"item_id"`
	ResolvedURL   string                 `json:"resolved_url"`
	GivenURL      string                 `json:"given_url"`
	ResolvedTitle string                 `json:"resolved_title"`
	GivenTitle    string                 `json:"given_title"`
	Excerpt       string                 `json:"excerpt"`
	TimeAdded     string                 `json:"time_added"`
	TimeUpdated   string                 `json:"time_updated"`
	SortID        int                    `json:"sort_id"`
	Tags          map[string]any         `json:"tags"`
	Images        map[string]pocketMedia `json:"images"`
	Videos        map[string]pocketMedia `json:"videos"`
}

type pocketResponse struct {
	Status int             `json:"status"`
	List   json.RawMessage `json:"list"`
}

// records decodes the list, which Pocket sends as [] when empty, in the
// order Pocket sorted it.
func (r pocketResponse) records() ([]pocketRecord, error) {
	raw := bytes.TrimSpace(r.List)
	if len(raw) == 0 || raw[0] == '[' || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var byID map[string]pocketRecord
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, fmt.Errorf("failed to decode pocket list: %w", err)
	}

	records := make([]pocketRecord, 0, len(byID))
	for _, id := range item.SortedKeys(byID) {
		rec := byID[id]
		if rec.ItemID == "" {
			rec.ItemID = id
		}
		records = append(records, rec)
	}
	slices.SortStableFunc(records, func(a, b pocketRecord) int {
		return cmp.Compare(a.SortID, b.SortID)
	})
	return records, nil
}

func (p *Pocket) Run(ctx context.Context, s *Session) error {
	consumerKey, accessToken, err := p.authenticate(ctx)
	if err != nil {
		return err
	}

	query := map[string]any{
		"consumer_key": consumerKey,
		"access_token": accessToken,
		"state":        "archive",
		"sort":         "newest",
		"detailType":   "complete",
		"count":        p.pageSize,
	}
	if since := s.Since(); since != nil {
		query["since"] = since.Unix()
	}

	for offset := 0; ; offset += p.pageSize {
		query["offset"] = offset

		var resp pocketResponse
		if err := p.fetcher.PostJSON(ctx, p.BaseURL+"/v3/get", pocketHeaders, query, &resp); err != nil {
			var status *StatusError
			if errors.As(err, &status) && status.Unauthorized() {
				return fmt.Errorf("%w: %v", ErrAuth, err)
			}
			return fmt.Errorf("failed to get list of items from pocket: %w", err)
		}

		records, err := resp.records()
		if err != nil {
			return err
		}

		for _, rec := range records {
			stop, err := s.Save(ctx, p.toItem(rec))
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}

		if len(records) < p.pageSize {
			return nil
		}
	}
}

func (p *Pocket) toItem(rec pocketRecord) item.Item {
	it := item.Item{
		ID:    rec.ItemID,
		Type:  item.TypePocket,
		URL:   cmp.Or(rec.ResolvedURL, rec.GivenURL),
		Title: cmp.Or(rec.ResolvedTitle, rec.GivenTitle),
	}
	if epoch, err := strconv.ParseInt(rec.TimeUpdated, 10, 64); err == nil {
		it.Timestamp = item.FromEpoch(epoch)
	}
	if epoch, err := strconv.ParseInt(rec.TimeAdded, 10, 64); err == nil {
		it.SetExtra("timestamp_added", item.FromEpoch(epoch))
	}

	if len(rec.Tags) > 0 {
		it.SetExtra("tags", item.SortedKeys(rec.Tags))
	}
	if images := mediaSources(rec.Images); len(images) > 0 {
		it.SetExtra("images", images)
	}
	if videos := mediaSources(rec.Videos); len(videos) > 0 {
		it.SetExtra("videos", videos)
	}
	it.SetExtra("excerpt", rec.Excerpt)

	return it
}

// mediaSources lists attachment sources ordered by their numeric key.
func mediaSources(media map[string]pocketMedia) []string {
	var sources []string
	for _, m := range item.SortedValues(media) {
		if m.Src != "" {
			sources = append(sources, m.Src)
		}
	}
	return sources
}
