// Package news reads the CryptoCompare news feed and curates it for the
// ticker's symbol.
package news

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL   = "https://min-api.cryptocompare.com"
	defaultLimit     = 12
	defaultPageSize  = 6
	defaultUserAgent = "price-ticker/1.0"
	maxBodyBytes     = 4 << 20
)

// ErrUpstream is returned when the feed answers with a failure envelope.
var ErrUpstream = errors.New("news feed unavailable")

// Kind groups articles for filtering.
type Kind string

const (
	KindAnalysis Kind = "analysis"
	KindUpdates  Kind = "updates"
	KindNews     Kind = "news"
)

// ParseKind accepts analysis, updates, news, or all/empty for any kind.
func ParseKind(raw string) (Kind, error) {
	switch k := strings.ToLower(strings.TrimSpace(raw)); k {
	case "", "all":
		return "", nil
	case string(KindAnalysis), string(KindUpdates), string(KindNews):
		return Kind(k), nil
	default:
		return "", fmt.Errorf("unknown article kind %q", raw)
	}
}

// Article is one curated feed entry.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Source      string    `json:"source"`
	Categories  string    `json:"categories,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	Kind        Kind      `json:"kind"`
}

// Options configure the client.
type Options struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
	Limit     int
	CacheTTL  time.Duration
}

// Client fetches and caches the curated article list.
type Client struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	cached    []Article
	fetchedAt time.Time
}

// New constructs a Client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "news").Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the clock used for cache expiry.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Articles returns the curated list, served from cache while it is fresh.
func (c *Client) Articles(ctx context.Context) ([]Article, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.opts.CacheTTL > 0 && c.now().Sub(c.fetchedAt) < c.opts.CacheTTL {
		return c.cached, nil
	}

	raw, err := c.fetch(ctx)
	if err != nil {
		if c.cached != nil {
			c.logger.Warn().Err(err).Msg("news refresh failed, serving stale list")
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = Curate(raw, c.opts.Limit)
	c.fetchedAt = c.now()
	c.logger.Debug().Int("fetched", len(raw)).Int("kept", len(c.cached)).Msg("news refreshed")
	return c.cached, nil
}

func (c *Client) fetch(ctx context.Context) ([]Article, error) {
	query := url.Values{"lang": {"EN"}}
	if c.opts.APIKey != "" {
		query.Set("api_key", c.opts.APIKey)
	}
	endpoint := c.opts.BaseURL + "/data/v2/news/?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create news request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch news: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read news body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return parseFeed(body)
}

func parseFeed(body []byte) ([]Article, error) {
	status, _ := jsonparser.GetString(body, "Response")
	message, _ := jsonparser.GetString(body, "Message")
	if status != "Success" && message != "News list successfully returned" {
		if message == "" {
			message = "unexpected response"
		}
		return nil, fmt.Errorf("%w: %s", ErrUpstream, message)
	}

	var (
		out      []Article
		parseErr error
	)
	_, err := jsonparser.ArrayEach(body, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if parseErr != nil || dataType != jsonparser.Object {
			return
		}
		a := Article{}
		a.Title, _ = jsonparser.GetString(value, "title")
		if a.Title == "" {
			return
		}
		a.Body, _ = jsonparser.GetString(value, "body")
		a.URL, _ = jsonparser.GetString(value, "url")
		a.ImageURL, _ = jsonparser.GetString(value, "imageurl")
		a.Source, _ = jsonparser.GetString(value, "source")
		a.Categories, _ = jsonparser.GetString(value, "categories")
		a.ID = stringOrNumber(value, "id")
		if ts, err := jsonparser.GetInt(value, "published_on"); err == nil {
			a.PublishedAt = time.Unix(ts, 0).UTC()
		}
		out = append(out, a)
	}, "Data")
	if err != nil {
		return nil, fmt.Errorf("%w: parse articles: %v", ErrUpstream, err)
	}
	return out, nil
}

func stringOrNumber(value []byte, key string) string {
	raw, dataType, _, err := jsonparser.Get(value, key)
	if err != nil {
		return ""
	}
	switch dataType {
	case jsonparser.String:
		s, _ := jsonparser.ParseString(raw)
		return s
	case jsonparser.Number:
		if n, err := jsonparser.ParseInt(raw); err == nil {
			return strconv.FormatInt(n, 10)
		}
		return string(raw)
	}
	return ""
}

// Relevant reports whether an article is about Shiba Inu.
func Relevant(a Article) bool {
	title := strings.ToLower(a.Title)
	return strings.Contains(title, "shib") ||
		strings.Contains(strings.ToLower(a.Body), "shiba inu") ||
		strings.Contains(strings.ToLower(a.Categories), "shiba")
}

// Classify derives the article kind from its title.
func Classify(title string) Kind {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "analysis"), strings.Contains(t, "price prediction"):
		return KindAnalysis
	case strings.Contains(t, "update"), strings.Contains(t, "development"):
		return KindUpdates
	}
	return KindNews
}

// Curate keeps relevant articles in feed order and, when fewer than limit
// match, tops the list up with general articles. Every kept article is
// classified.
func Curate(feed []Article, limit int) []Article {
	out := make([]Article, 0, limit)
	taken := make([]bool, len(feed))
	for i, a := range feed {
		if Relevant(a) {
			out = append(out, a)
			taken[i] = true
		}
	}
	for i, a := range feed {
		if len(out) >= limit {
			break
		}
		if !taken[i] {
			out = append(out, a)
		}
	}
	for i := range out {
		out[i].Kind = Classify(out[i].Title)
	}
	return out
}

// Filter narrows articles by kind (empty for any) and a case-insensitive
// search term matched against title and body.
func Filter(articles []Article, kind Kind, term string) []Article {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		if kind != "" && a.Kind != kind {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(a.Title), term) &&
			!strings.Contains(strings.ToLower(a.Body), term) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Page is one page of articles.
type Page struct {
	Articles   []Article `json:"articles"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
	Total      int       `json:"total"`
}

// Paginate returns the 1-based page of size articles. Out-of-range pages are
// clamped.
func Paginate(articles []Article, page, size int) Page {
	if size <= 0 {
		size = defaultPageSize
	}
	total := len(articles)
	pages := (total + size - 1) / size
	if page < 1 {
		page = 1
	}
	if pages > 0 && page > pages {
		page = pages
	}
	start := (page - 1) * size
	end := start + size
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return Page{
		Articles:   append([]Article(nil), articles[start:end]...),
		Page:       page,
		TotalPages: pages,
		Total:      total,
	}
}
