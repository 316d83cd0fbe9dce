package metrics

import (
	"strings"
	"time"
)

// CampaignType distinguishes one-off campaigns from automated flows.
type CampaignType string

const (
	TypeCampaign CampaignType = "campaign"
	TypeFlow     CampaignType = "flow"
	TypeOther    CampaignType = "other"
)

// ParseCampaignType maps platform spellings onto the three known types.
func ParseCampaignType(raw string) CampaignType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "campaign", "campaigns", "broadcast", "blast":
		return TypeCampaign
	case "flow", "flows", "automation", "flow-message", "flow_message":
		return TypeFlow
	default:
		return TypeOther
	}
}

// Record is one normalized observation for a single campaign in a single
// account. Values only holds base (additive) metrics.
type Record struct {
	Account      string       `json:"account"`
	CampaignID   string       `json:"campaign_id"`
	CampaignName string       `json:"campaign_name,omitempty"`
	CampaignType CampaignType `json:"campaign_type"`
	Channel      string       `json:"channel,omitempty"`
	Status       string       `json:"status,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Group        string       `json:"group,omitempty"`
	Values       Set          `json:"values"`
}

// WithGroup returns a copy of the record carrying the given group label.
func (r Record) WithGroup(label string) Record {
	r.Group = label
	return r
}
