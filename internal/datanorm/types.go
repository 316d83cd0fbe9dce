package datanorm

import (
	"fmt"
	"time"

	"github.com/ignite/campaign-pulse/internal/metrics"
)

// RawRow is one platform row as decoded from JSON: field name to value.
type RawRow map[string]interface{}

// RawBatch is everything fetched for one account in one snapshot.
type RawBatch struct {
	Account   string    `json:"account"`
	Timezone  string    `json:"timezone,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Rows      []RawRow  `json:"rows"`
}

// SchemaError describes a row that could not become a Record. The row is
// dropped; the rest of the batch continues.
type SchemaError struct {
	Account string
	Row     int
	Field   string
	Reason  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: account %q row %d field %q: %s", e.Account, e.Row, e.Field, e.Reason)
}

// Warning is a non-fatal normalization note: an unknown field, an
// unparseable or negative value.
type Warning struct {
	Account string `json:"account"`
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.Row < 0 {
		return fmt.Sprintf("%s: %s: %s", w.Account, w.Field, w.Message)
	}
	return fmt.Sprintf("%s row %d: %s: %s", w.Account, w.Row, w.Field, w.Message)
}

// Result tracks the outcome of normalizing one batch.
type Result struct {
	Account  string
	Records  []metrics.Record
	Dropped  []*SchemaError
	Warnings []Warning
	Duration time.Duration
}

// IdentityField is a non-metric field every record carries.
type IdentityField string

const (
	FieldAccount      IdentityField = "account"
	FieldCampaignID   IdentityField = "campaign_id"
	FieldCampaignName IdentityField = "campaign_name"
	FieldCampaignType IdentityField = "campaign_type"
	FieldChannel      IdentityField = "channel"
	FieldStatus       IdentityField = "status"
	FieldTimestamp    IdentityField = "timestamp"
)

// Backfill reconstructs a missing base metric as numerator / rate, where
// rate is a raw platform field such as open_rate.
type Backfill struct {
	Target    string `yaml:"target" json:"target"`
	Numerator string `yaml:"numerator" json:"numerator"`
	RateField string `yaml:"rate_field" json:"rate_field"`
}

// AccountOptions are per-account overrides.
type AccountOptions struct {
	Timezone string
	// Units multiplies a canonical metric (or a backfill rate field) after
	// aliasing, e.g. revenue reported in cents gets 0.01.
	Units map[string]float64
	// Aliases extend or override the shared alias table.
	Aliases map[string]string
}

// Options configure a Normalizer.
type Options struct {
	Aliases           map[string]string
	Identity          map[IdentityField][]string
	Ignore            []string
	Backfill          []Backfill
	ReferenceTimezone string
	Accounts          map[string]AccountOptions
}
