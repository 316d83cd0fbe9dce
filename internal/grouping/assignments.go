package grouping

import (
	"sort"
	"strings"
	"time"
)

// Assignment is a user-saved campaign to group mapping.
type Assignment struct {
	CampaignID string    `json:"campaign_id" dynamodbav:"campaign_id"`
	Group      string    `json:"group" dynamodbav:"group"`
	UpdatedAt  time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Validate checks an assignment before it is saved.
func (a Assignment) Validate() error {
	if strings.TrimSpace(a.CampaignID) == "" {
		return errMissingCampaign
	}
	if strings.TrimSpace(a.Group) == "" {
		return errMissingGroup
	}
	return nil
}

// RulesFromAssignments turns saved assignments into explicit rules, one
// per label, in label order. Saved assignments sit in front of configured
// rules when priority is lower than theirs.
func RulesFromAssignments(assignments []Assignment, priority int) []Rule {
	byLabel := make(map[string][]string)
	seen := make(map[string]bool)
	for _, a := range assignments {
		if a.Validate() != nil || seen[a.CampaignID] {
			continue
		}
		seen[a.CampaignID] = true
		byLabel[a.Group] = append(byLabel[a.Group], a.CampaignID)
	}

	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	rules := make([]Rule, 0, len(labels))
	for _, l := range labels {
		members := byLabel[l]
		sort.Strings(members)
		rules = append(rules, Rule{Kind: KindExplicit, Label: l, Priority: priority, Members: members})
	}
	return rules
}

// Merge returns saved rules followed by configured rules. Stable sorting in
// NewResolver keeps saved rules first among equal priorities.
func Merge(saved, configured []Rule) []Rule {
	out := make([]Rule, 0, len(saved)+len(configured))
	out = append(out, saved...)
	return append(out, configured...)
}
