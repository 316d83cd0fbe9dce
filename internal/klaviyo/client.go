// Package klaviyo pulls campaign metrics from the Klaviyo API and joins
// them with campaign metadata into raw account batches.
package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/campaign-pulse/internal/pkg/httpretry"
)

const (
	defaultBaseURL  = "https://a.klaviyo.com"
	defaultRevision = "2025-10-15"
	jsonAPI         = "application/vnd.api+json"

	// Guards against a server that keeps handing out next links.
	maxPages = 500
)

// Client is the Klaviyo API client. One client serves every account; the
// API key travels with each call.
type Client struct {
	baseURL    string
	revision   string
	statistics []string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a new Klaviyo API client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Revision == "" {
		config.Revision = defaultRevision
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		revision:   config.Revision,
		statistics: config.Statistics,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: config.Timeout,
		}, config.MaxRetries),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d) %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// doRequest performs an authenticated request. target is either a path
// relative to the base URL or an absolute next link.
func (c *Client) doRequest(ctx context.Context, apiKey, method, target string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	reqURL := target
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		reqURL = c.baseURL + target
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Klaviyo-API-Key "+apiKey)
	req.Header.Set("accept", jsonAPI)
	req.Header.Set("revision", c.revision)
	if body != nil {
		req.Header.Set("content-type", jsonAPI)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: req.URL.Path, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.00Z")
}

// ========== Campaign values report ==========

// GetCampaignValuesReport pulls every page of the campaign values report.
// Each page is requested with the same body.
func (c *Client) GetCampaignValuesReport(ctx context.Context, acct Account, tf Timeframe) ([]ReportRow, error) {
	payload := reportRequest{Data: reportRequestData{
		Type: "campaign-values-report",
		Attributes: reportAttributes{
			Timeframe:          timeframeJSON{Start: formatTime(tf.Start), End: formatTime(tf.End)},
			ConversionMetricID: acct.ConversionMetricID,
			Statistics:         c.statistics,
		},
	}}

	var rows []ReportRow
	next := "/api/campaign-values-reports/"
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("campaign values report: more than %d pages", maxPages)
		}
		respBody, err := c.doRequest(ctx, acct.APIKey, http.MethodPost, next, payload)
		if err != nil {
			return nil, err
		}

		var response reportResponse
		dec := json.NewDecoder(bytes.NewReader(respBody))
		dec.UseNumber()
		if err := dec.Decode(&response); err != nil {
			return nil, fmt.Errorf("failed to parse report response: %w", err)
		}

		for _, r := range response.Data.Attributes.Results {
			row := make(ReportRow, len(r.Groupings)+len(r.Statistics))
			for k, v := range r.Groupings {
				row[k] = v
			}
			for k, v := range r.Statistics {
				row[k] = v
			}
			rows = append(rows, row)
		}
		next = response.Links.Next
	}
	return rows, nil
}

// ========== Campaigns ==========

// GetEmailCampaigns lists email campaigns scheduled at or after since.
func (c *Client) GetEmailCampaigns(ctx context.Context, acct Account, since time.Time) ([]Campaign, error) {
	params := url.Values{}
	params.Set("filter", fmt.Sprintf("and(equals(messages.channel,'email'),greater-or-equal(scheduled_at,%s))", formatTime(since)))
	next := "/api/campaigns?" + params.Encode()

	var campaigns []Campaign
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("campaigns: more than %d pages", maxPages)
		}
		respBody, err := c.doRequest(ctx, acct.APIKey, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}

		var response campaignListResponse
		if err := json.Unmarshal(respBody, &response); err != nil {
			return nil, fmt.Errorf("failed to parse campaigns response: %w", err)
		}

		for _, r := range response.Data {
			campaigns = append(campaigns, Campaign{
				Type:        r.Type,
				ID:          r.ID,
				Name:        r.Attributes.Name,
				Status:      r.Attributes.Status,
				Archived:    r.Attributes.Archived,
				SendTime:    deref(r.Attributes.SendTime),
				ScheduledAt: deref(r.Attributes.ScheduledAt),
			})
		}
		// The next link already carries the filter.
		next = response.Links.Next
	}
	return campaigns, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
