package datanorm

import (
	"sort"
	"strings"
)

// Canonical base metric names.
const (
	MetricSends          = "sends"
	MetricRecipients     = "recipients"
	MetricDelivered      = "delivered"
	MetricOpens          = "opens"
	MetricUniqueOpens    = "unique_opens"
	MetricClicks         = "clicks"
	MetricUniqueClicks   = "unique_clicks"
	MetricBounced        = "bounced"
	MetricSpamComplaints = "spam_complaints"
	MetricUnsubscribes   = "unsubscribes"
	MetricConversions    = "conversions"
	MetricRevenue        = "revenue"
)

// DefaultAliases maps lowercase platform field names to canonical base
// metrics. Several raw names may mean the same thing.
func DefaultAliases() map[string]string {
	return map[string]string{
		// Sends
		"sends":      MetricSends,
		"sent":       MetricSends,
		"send_count": MetricSends,
		"sent_count": MetricSends,

		"recipients": MetricRecipients,

		"delivered":       MetricDelivered,
		"deliveries":      MetricDelivered,
		"delivered_count": MetricDelivered,

		// Opens
		"opens":        MetricOpens,
		"open_count":   MetricOpens,
		"opens_unique": MetricUniqueOpens,
		"unique_opens": MetricUniqueOpens,

		// Clicks
		"clicks":        MetricClicks,
		"click_count":   MetricClicks,
		"clicks_unique": MetricUniqueClicks,
		"unique_clicks": MetricUniqueClicks,

		// Negative signals
		"bounced":         MetricBounced,
		"bounces":         MetricBounced,
		"bounce_count":    MetricBounced,
		"spam_complaints": MetricSpamComplaints,
		"complaints":      MetricSpamComplaints,
		"spam_reports":    MetricSpamComplaints,
		"unsubscribes":    MetricUnsubscribes,
		"unsubscribed":    MetricUnsubscribes,
		"unsubs":          MetricUnsubscribes,

		// Revenue
		"conversions":        MetricConversions,
		"conversion_uniques": MetricConversions,
		"conversion_value":   MetricRevenue,
		"revenue":            MetricRevenue,
	}
}

// DefaultIdentity lists, per identity field, the raw names to try in order.
func DefaultIdentity() map[IdentityField][]string {
	return map[IdentityField][]string{
		FieldAccount:      {"account", "account_name"},
		FieldCampaignID:   {"campaign_id", "id", "mailing_id"},
		FieldCampaignName: {"name", "campaign_name", "mailing_name"},
		FieldCampaignType: {"campaign_type", "type"},
		FieldChannel:      {"send_channel", "channel"},
		FieldStatus:       {"status", "campaign_status"},
		FieldTimestamp:    {"send_time", "scheduled_at", "timestamp", "date"},
	}
}

// DefaultIgnore are fields the platform returns that carry nothing the
// engine aggregates. Reported rates are recomputed from base metrics.
func DefaultIgnore() []string {
	return []string{
		"bounce_rate", "click_rate", "conversion_rate", "delivery_rate", "open_rate",
		"spam_complaint_rate", "unsubscribe_rate", "click_to_open_rate",
		"average_order_value", "revenue_per_recipient",
		"archived", "campaign_message_id", "group", "created_at", "updated_at",
	}
}

// DefaultBackfill reconstructs sends from opens and the reported open rate.
func DefaultBackfill() []Backfill {
	return []Backfill{{Target: MetricSends, Numerator: MetricOpens, RateField: "open_rate"}}
}

// normalizeField lowercases, trims and strips surrounding quotes.
func normalizeField(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.Trim(s, "\"'")
}

// aliasTable is the resolved field lookup for one account.
type aliasTable struct {
	metrics  map[string]string
	identity map[IdentityField][]string
	ignore   map[string]bool
}

func newAliasTable(shared, overrides map[string]string, identity map[IdentityField][]string, ignore []string, backfill []Backfill) *aliasTable {
	t := &aliasTable{
		metrics:  make(map[string]string, len(shared)+len(overrides)),
		identity: make(map[IdentityField][]string, len(identity)),
		ignore:   make(map[string]bool, len(ignore)),
	}
	for raw, canonical := range shared {
		t.metrics[normalizeField(raw)] = canonical
	}
	for raw, canonical := range overrides {
		t.metrics[normalizeField(raw)] = canonical
	}
	for field, names := range identity {
		norm := make([]string, len(names))
		for i, n := range names {
			norm[i] = normalizeField(n)
		}
		t.identity[field] = norm
	}
	for _, f := range ignore {
		t.ignore[normalizeField(f)] = true
	}
	for _, b := range backfill {
		t.ignore[normalizeField(b.RateField)] = true
	}
	// Identity names never count as unknown metrics.
	for _, names := range t.identity {
		for _, n := range names {
			t.ignore[n] = true
		}
	}
	return t
}

// canonicalNames returns the distinct canonical metrics, sorted.
func (t *aliasTable) canonicalNames() []string {
	seen := make(map[string]bool, len(t.metrics))
	for _, c := range t.metrics {
		seen[c] = true
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// lookupIdentity returns the first non-empty raw value for an identity field.
func (t *aliasTable) lookupIdentity(row map[string]interface{}, field IdentityField) (interface{}, string) {
	for _, name := range t.identity[field] {
		if v, ok := row[name]; ok && !isBlank(v) {
			return v, name
		}
	}
	return nil, ""
}

// normalizeRow rekeys a raw row by normalized field name. On collisions the
// lexically first raw spelling wins.
func normalizeRow(row RawRow) map[string]interface{} {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(row))
	for _, k := range keys {
		nk := normalizeField(k)
		if _, exists := out[nk]; exists {
			continue
		}
		out[nk] = row[k]
	}
	return out
}
