package aggregate

import (
	"strings"
	"time"

	"github.com/ignite/campaign-pulse/internal/metrics"
)

// Dimension is one component of an aggregation key.
type Dimension string

const (
	DimAccount      Dimension = "account"
	DimGroup        Dimension = "group"
	DimCampaignType Dimension = "campaign_type"
	DimCampaign     Dimension = "campaign"
	DimChannel      Dimension = "channel"
	DimStatus       Dimension = "status"
)

// ParseDimension accepts the canonical names plus a few UI spellings.
func ParseDimension(raw string) (Dimension, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "account":
		return DimAccount, nil
	case "group":
		return DimGroup, nil
	case "campaign_type", "type":
		return DimCampaignType, nil
	case "campaign", "campaign_id":
		return DimCampaign, nil
	case "channel", "send_channel":
		return DimChannel, nil
	case "status":
		return DimStatus, nil
	}
	return "", metrics.NewConfigError("grouping", raw, "unknown dimension")
}

// Granularity is the time bucket size.
type Granularity string

const (
	GranularityNone  Granularity = "none"
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ParseGranularity maps "" to GranularityNone.
func ParseGranularity(raw string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "total":
		return GranularityNone, nil
	case "hour", "hourly":
		return GranularityHour, nil
	case "day", "daily":
		return GranularityDay, nil
	case "week", "weekly":
		return GranularityWeek, nil
	case "month", "monthly":
		return GranularityMonth, nil
	}
	return "", metrics.NewConfigError("grouping", raw, "unknown granularity")
}

// Truncate returns the start of the bucket containing t, in t's location.
// Weeks start on Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch g {
	case GranularityHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case GranularityDay:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case GranularityWeek:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case GranularityMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	}
	return time.Time{}
}

// Add moves a bucket start by n buckets.
func (g Granularity) Add(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch g {
	case GranularityHour:
		return time.Date(y, m, d, t.Hour()+n, 0, 0, 0, loc)
	case GranularityDay:
		return time.Date(y, m, d+n, 0, 0, 0, 0, loc)
	case GranularityWeek:
		return time.Date(y, m, d+7*n, 0, 0, 0, 0, loc)
	case GranularityMonth:
		return time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, loc)
	}
	return t
}

// Grouping selects the key dimensions and time bucket of an aggregation.
type Grouping struct {
	Dimensions  []Dimension `json:"dimensions"`
	Granularity Granularity `json:"granularity"`
}

// Validate rejects unknown or repeated dimensions and unknown granularities.
func (g Grouping) Validate() error {
	seen := make(map[Dimension]bool, len(g.Dimensions))
	for _, d := range g.Dimensions {
		switch d {
		case DimAccount, DimGroup, DimCampaignType, DimCampaign, DimChannel, DimStatus:
		default:
			return metrics.NewConfigError("grouping", string(d), "unknown dimension")
		}
		if seen[d] {
			return metrics.NewConfigError("grouping", string(d), "dimension repeated")
		}
		seen[d] = true
	}
	switch g.Granularity {
	case "", GranularityNone, GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
	default:
		return metrics.NewConfigError("grouping", string(g.Granularity), "unknown granularity")
	}
	return nil
}

// Has reports whether d is part of the key.
func (g Grouping) Has(d Dimension) bool {
	for _, x := range g.Dimensions {
		if x == d {
			return true
		}
	}
	return false
}

// With returns a copy of g that also keys on d.
func (g Grouping) With(d Dimension) Grouping {
	if g.Has(d) {
		return g
	}
	dims := make([]Dimension, 0, len(g.Dimensions)+1)
	dims = append(dims, d)
	dims = append(dims, g.Dimensions...)
	return Grouping{Dimensions: dims, Granularity: g.Granularity}
}

// Without returns a copy of g that no longer keys on d.
func (g Grouping) Without(d Dimension) Grouping {
	dims := make([]Dimension, 0, len(g.Dimensions))
	for _, x := range g.Dimensions {
		if x != d {
			dims = append(dims, x)
		}
	}
	return Grouping{Dimensions: dims, Granularity: g.Granularity}
}

func (g Grouping) timed() bool {
	return g.Granularity != "" && g.Granularity != GranularityNone
}
