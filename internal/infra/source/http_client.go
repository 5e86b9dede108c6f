package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crmsync/leadrelay/internal/pipeline/classify"
)

// Config holds tabular source API settings.
type Config struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient implements Client against a spreadsheet-style values API:
// GET /v1/spreadsheets/{id}/values/{tab} and GET /v1/spreadsheets/{id}/tabs.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a new source client.
func NewHTTPClient(cfg Config, httpClient *http.Client) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
	}
}

type valuesResponse struct {
	Values [][]string `json:"values"`
}

type tabsResponse struct {
	Tabs []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"tabs"`
}

// FetchRows returns all rows of a tab, header row first.
func (c *HTTPClient) FetchRows(ctx context.Context, sourceID, tabName string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/v1/spreadsheets/%s/values/%s",
		c.baseURL, url.PathEscape(sourceID), url.PathEscape(tabName))

	var out valuesResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

// ResolveTabName maps a numeric tab identifier to its current name.
func (c *HTTPClient) ResolveTabName(ctx context.Context, sourceID, tabID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/spreadsheets/%s/tabs", c.baseURL, url.PathEscape(sourceID))

	var out tabsResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return "", err
	}
	for _, tab := range out.Tabs {
		if tab.ID == tabID {
			return tab.Title, nil
		}
	}
	return "", nil
}

// getJSON performs one GET and decodes the response. Failures come back as
// classified errors so the coordinator treats source trouble exactly like
// delivery trouble.
func (c *HTTPClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify.WrapErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classify.WrapErr(err)
	}

	if resp.StatusCode != http.StatusOK {
		kind, retryable := classify.Classify(resp.StatusCode, resp.Header, string(body))
		hint := classify.RetryAfter(resp.Header, time.Now())
		return classify.NewError(resp.StatusCode, kind, retryable, hint, snippet(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode source response: %w", err)
	}
	return nil
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}
