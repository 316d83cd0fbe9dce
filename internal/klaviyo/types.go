package klaviyo

import "time"

// Account is one Klaviyo account to pull.
type Account struct {
	Name               string
	APIKey             string
	ConversionMetricID string
	Timezone           string
}

// Config holds Klaviyo API client configuration
type Config struct {
	BaseURL    string
	Revision   string
	Timeout    time.Duration
	MaxRetries int
	Statistics []string
}

// Timeframe bounds a report. Both ends are inclusive on Klaviyo's side.
type Timeframe struct {
	Start time.Time
	End   time.Time
}

// ========== Campaign values report ==========

type reportRequest struct {
	Data reportRequestData `json:"data"`
}

type reportRequestData struct {
	Type       string           `json:"type"`
	Attributes reportAttributes `json:"attributes"`
}

type reportAttributes struct {
	Timeframe          timeframeJSON `json:"timeframe"`
	ConversionMetricID string        `json:"conversion_metric_id"`
	Statistics         []string      `json:"statistics"`
}

type timeframeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type reportResponse struct {
	Data struct {
		Attributes struct {
			Results []reportResult `json:"results"`
		} `json:"attributes"`
	} `json:"data"`
	Links links `json:"links"`
}

type reportResult struct {
	Groupings  map[string]interface{} `json:"groupings"`
	Statistics map[string]interface{} `json:"statistics"`
}

// ========== Campaigns ==========

type campaignListResponse struct {
	Data  []campaignResource `json:"data"`
	Links links              `json:"links"`
}

type campaignResource struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes struct {
		Name        string  `json:"name"`
		Status      string  `json:"status"`
		Archived    bool    `json:"archived"`
		SendTime    *string `json:"send_time"`
		ScheduledAt *string `json:"scheduled_at"`
	} `json:"attributes"`
}

type links struct {
	Next string `json:"next"`
}

// Campaign is the campaign metadata joined onto report rows. Empty times
// were null in the API response.
type Campaign struct {
	Type        string
	ID          string
	Name        string
	Status      string
	Archived    bool
	SendTime    string
	ScheduledAt string
}

// ReportRow is one campaign-values-report result: groupings and
// statistics flattened into a single map.
type ReportRow map[string]interface{}
