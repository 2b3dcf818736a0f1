package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "price-ticker/1.0"
	maxBodyBytes     = 4 << 20
)

// HTTPOptions are shared by the JSON-over-HTTP providers.
type HTTPOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// httpGetter issues GET requests and returns the raw body of 2xx responses.
type httpGetter struct {
	provider string
	baseURL  string
	headers  map[string]string
	client   *http.Client
	logger   zerolog.Logger
}

func newHTTPGetter(provider, baseURL, fallbackURL string, opts HTTPOptions, headers map[string]string, logger zerolog.Logger) *httpGetter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = fallbackURL
	}

	merged := map[string]string{
		"Accept":        "application/json",
		"Cache-Control": "no-cache",
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	merged["User-Agent"] = ua
	for k, v := range headers {
		if v != "" {
			merged[k] = v
		}
	}

	return &httpGetter{
		provider: provider,
		baseURL:  base,
		headers:  merged,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "provider_"+provider).Logger(),
	}
}

func (g *httpGetter) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, networkError(g.provider, 0, fmt.Errorf("create request: %w", err))
	}
	for k, v := range g.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, networkError(g.provider, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, networkError(g.provider, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	g.logger.Debug().Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, networkError(g.provider, resp.StatusCode, parseHTTPError(body))
	}
	if err := validJSON(g.provider, body); err != nil {
		return nil, err
	}
	return body, nil
}

// parseHTTPError extracts a readable message from the common error envelopes.
func parseHTTPError(payload []byte) error {
	for _, keys := range [][]string{
		{"status", "error_message"},
		{"error"},
		{"msg"},
		{"message"},
	} {
		if msg, err := jsonparser.GetString(payload, keys...); err == nil && msg != "" {
			return errors.New(msg)
		}
	}
	if text := strings.TrimSpace(string(payload)); text != "" {
		if len(text) > 200 {
			text = text[:200]
		}
		return errors.New(text)
	}
	return errors.New("empty error response")
}
