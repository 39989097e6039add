// Package virustotal implements the LookupClient port against the VirusTotal
// v2 report API.
package virustotal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/repscreen/repscreen/internal/domain/model"
	"github.com/repscreen/repscreen/internal/domain/port/driven"
)

// DefaultBaseURL is the production VirusTotal v2 API root.
const DefaultBaseURL = "https://www.virustotal.com/vtapi/v2"

// Compile-time interface satisfaction check.
var _ driven.LookupClient = (*Client)(nil)

// Client performs single reputation queries over HTTP. The transport is
// wrapped in httpcache's in-memory conditional-request cache. The client is
// stateless, safe for concurrent use, and never retries; skipping a failed
// entry is the orchestrator's call.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a vendor client with the given base URL and per-request
// timeout. The timeout bounds a stalled call so a scan's cancellation is
// never delayed indefinitely.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client. This
// constructor is intended for testing, allowing injection of an httptest
// server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// reportResponse mirrors the fields of a v2 report payload this client reads.
type reportResponse struct {
	ResponseCode int `json:"response_code"`
	Positives    int `json:"positives"`
}

// Lookup queries the report endpoint for the entry kind and returns the
// number of engines flagging the entry as malicious. A response code other
// than 1 means the vendor has no record of the entry: a zero-signal result,
// not an error.
func (c *Client) Lookup(ctx context.Context, kind model.EntryKind, entry, credential string) (int, error) {
	var endpoint, param string
	switch kind {
	case model.EntryKindAddress:
		endpoint, param = "ip-address/report", "ip"
	case model.EntryKindName:
		endpoint, param = "domain/report", "domain"
	default:
		return 0, fmt.Errorf("unknown entry kind %q", kind)
	}

	query := url.Values{}
	query.Set("apikey", credential)
	query.Set(param, entry)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, query.Encode()), nil)
	if err != nil {
		return 0, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("lookup %q: %w", entry, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("lookup %q: vendor returned status %d", entry, resp.StatusCode)
	}

	var report reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return 0, fmt.Errorf("lookup %q: decode report: %w", entry, err)
	}

	if report.ResponseCode != 1 || report.Positives < 0 {
		return 0, nil
	}
	return report.Positives, nil
}
