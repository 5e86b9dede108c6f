package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crmsync/leadrelay/internal/core/domain"
	"github.com/crmsync/leadrelay/internal/pipeline/classify"
)

func testTenant(url string) domain.Tenant {
	return domain.Tenant{Name: "acme", APIBase: url, APIKey: "secret", AccountID: "acct-1"}
}

func TestSubmitSuccess(t *testing.T) {
	var gotAuth string
	var gotBody submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SubmitResult{ID: "lead-123"})
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{}, srv.Client())
	lead := domain.Lead{Email: "jane@example.com", FirstName: "Jane"}

	result, err := client.Submit(context.Background(), lead, testTenant(srv.URL))
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if result.ID != "lead-123" {
		t.Errorf("Submit() id = %s, want lead-123", result.ID)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody.Email != "jane@example.com" || gotBody.AccountID != "acct-1" {
		t.Errorf("request body = %+v, want lead with account id", gotBody)
	}
}

func TestSubmitClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    http.Header
		kind      classify.Kind
		retryable bool
	}{
		{"unauthorized", 401, nil, classify.KindUnauthorized, false},
		{"validation", 422, nil, classify.KindValidationError, false},
		{"rate limited", 429, http.Header{"Retry-After": []string{"7"}}, classify.KindRateLimited, true},
		{"unavailable", 503, nil, classify.KindUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, vs := range tt.header {
					for _, v := range vs {
						w.Header().Add(k, v)
					}
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewHTTPClient(Config{}, srv.Client())
			_, err := client.Submit(context.Background(), domain.Lead{Email: "a@example.com"}, testTenant(srv.URL))

			var cerr *classify.Error
			if !errors.As(err, &cerr) {
				t.Fatalf("Submit() error %v is not a classified error", err)
			}
			if cerr.Kind != tt.kind || cerr.Retryable != tt.retryable {
				t.Errorf("Submit() classified as (%s, %v), want (%s, %v)",
					cerr.Kind, cerr.Retryable, tt.kind, tt.retryable)
			}
			if tt.name == "rate limited" && cerr.RetryAfter != 7*time.Second {
				t.Errorf("RetryAfter = %v, want 7s", cerr.RetryAfter)
			}
		})
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewHTTPClient(Config{}, nil)
	_, err := client.Submit(context.Background(), domain.Lead{Email: "a@example.com"}, testTenant(srv.URL))

	var cerr *classify.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("Submit() error %v is not a classified error", err)
	}
	if !cerr.Retryable {
		t.Errorf("transport failures must be retryable, got %+v", cerr)
	}
}

func TestSubmitMalformedAckStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{}, srv.Client())
	result, err := client.Submit(context.Background(), domain.Lead{Email: "a@example.com"}, testTenant(srv.URL))
	if err != nil {
		t.Fatalf("Submit() error: %v, want success despite unparseable ack", err)
	}
	if result == nil {
		t.Errorf("Submit() result = nil, want empty result")
	}
}
