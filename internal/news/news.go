package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultQuery is used when the client does not supply a search term.
const DefaultQuery = "debt settlement india"

// Client proxies searches to a third-party news API, injecting the
// server-held key so it never reaches the browser.
type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

func New(apiKey, baseURL string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Search forwards q and page to the upstream API and returns the raw JSON
// payload. Empty q falls back to DefaultQuery.
func (c *Client) Search(ctx context.Context, q, page string) (json.RawMessage, error) {
	if q == "" {
		q = DefaultQuery
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("sortBy", "publishedAt")
	if page != "" {
		params.Set("page", page)
	}
	params.Set("apiKey", c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
