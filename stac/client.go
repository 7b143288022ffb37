package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"
)

const defaultSearchLimit = 250

// Query describes a STAC item search.
type Query struct {
	Collection string
	BBox       []float64
	// TimeRange is an ISO 8601 interval, e.g.
	// "2021-05-01T00:00:00Z/2021-06-30T00:00:00Z".
	TimeRange string
	Limit     int
	// Filter is an optional property query forwarded verbatim to the
	// API's "query" extension.
	Filter map[string]interface{}
}

type searchBody struct {
	Collections []string               `json:"collections,omitempty"`
	BBox        []float64              `json:"bbox,omitempty"`
	Datetime    string                 `json:"datetime,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
	Query       map[string]interface{} `json:"query,omitempty"`
}

type link struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body"`
}

type itemCollection struct {
	Features       []Feature `json:"features"`
	NumberReturned int       `json:"numberReturned"`
	NumberMatched  int       `json:"numberMatched"`
	Links          []link    `json:"links"`
}

// SearchResult is one page of features plus pagination metadata.
type SearchResult struct {
	Features []Feature
	Returned int
	Matched  int

	client *Client
	next   *link
}

// HasNext reports whether the API advertised a further page.
func (r *SearchResult) HasNext() bool {
	return r.next != nil
}

// Next fetches the following page. Returns nil when the catalog is
// exhausted.
func (r *SearchResult) Next(ctx context.Context) (*SearchResult, error) {
	if r.next == nil {
		return nil, nil
	}
	return r.client.fetchPage(ctx, r.next)
}

// Client talks to a STAC API endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.UserAgent = ua }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		UserAgent:  "stackcube",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs one item search and returns the first page.
func (c *Client) Search(ctx context.Context, q *Query) (*SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	body := &searchBody{
		Datetime: q.TimeRange,
		Limit:    limit,
		Query:    q.Filter,
	}
	if len(q.Collection) > 0 {
		body.Collections = []string{q.Collection}
	}
	if len(q.BBox) > 0 {
		body.BBox = q.BBox
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	return c.doSearch(ctx, "POST", c.BaseURL+"/search", payload)
}

// SearchAll paginates until the catalog is exhausted or maxFeatures is
// reached (0 means no limit).
func (c *Client) SearchAll(ctx context.Context, q *Query, maxFeatures int) ([]Feature, error) {
	var features []Feature
	page, err := c.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	for page != nil {
		features = append(features, page.Features...)
		if maxFeatures > 0 && len(features) >= maxFeatures {
			return features[:maxFeatures], nil
		}
		page, err = page.Next(ctx)
		if err != nil {
			return nil, err
		}
	}
	return features, nil
}

func (c *Client) fetchPage(ctx context.Context, next *link) (*SearchResult, error) {
	method := next.Method
	if len(method) == 0 {
		method = "GET"
	}
	return c.doSearch(ctx, method, next.Href, next.Body)
}

func (c *Client) doSearch(ctx context.Context, method, url string, payload []byte) (*SearchResult, error) {
	var reqBody *bytes.Reader
	if len(payload) > 0 {
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("User-Agent", c.UserAgent)
	if method == "POST" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("STAC request to %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body from %s: %v", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("STAC request to %s returned status %d: %s", url, resp.StatusCode, truncate(string(raw), 200))
	}

	var items itemCollection
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("problem parsing JSON response from %s: %v", url, err)
	}

	result := &SearchResult{
		Features: items.Features,
		Returned: items.NumberReturned,
		Matched:  items.NumberMatched,
		client:   c,
	}
	if result.Returned == 0 {
		result.Returned = len(items.Features)
	}

	for i := range items.Links {
		if items.Links[i].Rel == "next" {
			result.next = &items.Links[i]
			break
		}
	}
	// Some servers emit a next link even on the final empty page.
	if len(items.Features) == 0 {
		result.next = nil
	}

	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
