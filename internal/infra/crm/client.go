// Package crm defines the downstream delivery boundary. The HTTP client
// returns pre-classified failures so the retry engine can pattern-match on
// the error kind instead of inspecting responses itself.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/pipeline/classify"
)

// SubmitResult is the CRM's acknowledgement of an accepted lead.
type SubmitResult struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Client submits one lead to the downstream CRM.
type Client interface {
	// Submit delivers a lead on behalf of a tenant. A non-nil error is
	// always a *classify.Error carrying the kind and retryable verdict.
	Submit(ctx context.Context, lead domain.Lead, tenant domain.Tenant) (*SubmitResult, error)
}

// Config holds CRM client settings shared across tenants.
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient implements Client over the CRM's JSON API.
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient creates a new CRM client.
func NewHTTPClient(cfg Config, httpClient *http.Client) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{httpClient: httpClient}
}

type submitRequest struct {
	domain.Lead
	AccountID string `json:"account_id,omitempty"`
}

// Submit delivers a lead on behalf of a tenant.
func (c *HTTPClient) Submit(ctx context.Context, lead domain.Lead, tenant domain.Tenant) (*SubmitResult, error) {
	payload, err := json.Marshal(submitRequest{Lead: lead, AccountID: tenant.AccountID})
	if err != nil {
		return nil, classify.WrapErr(fmt.Errorf("failed to encode lead: %w", err))
	}

	endpoint := strings.TrimRight(tenant.APIBase, "/") + "/v1/leads"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, classify.WrapErr(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tenant.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+tenant.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify.WrapErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classify.WrapErr(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind, retryable := classify.Classify(resp.StatusCode, resp.Header, string(body))
		hint := classify.RetryAfter(resp.Header, time.Now())
		return nil, classify.NewError(resp.StatusCode, kind, retryable, hint, bodySnippet(body))
	}

	var result SubmitResult
	if err := json.Unmarshal(body, &result); err != nil {
		// The lead was accepted; a malformed ack must not trigger a
		// second submission.
		return &SubmitResult{}, nil
	}
	return &result, nil
}

func bodySnippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}
