package datanorm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T, opts Options) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(opts)
	require.NoError(t, err)
	return n
}

func TestNormalizeKlaviyoRow(t *testing.T) {
	n := newTestNormalizer(t, Options{Backfill: DefaultBackfill(), Ignore: DefaultIgnore()})

	res, err := n.Normalize(RawBatch{
		Account: "sg",
		Rows: []RawRow{{
			"campaign_id":  "01HXYZ",
			"name":         "April Newsletter",
			"type":         "campaign",
			"send_channel": "email",
			"send_time":    "2025-04-02T10:00:00+08:00",
			"opens":        float64(20),
			"clicks":       float64(4),
			"open_rate":    0.2,
			"bounced":      nil,
			"status":       "Sent",
		}},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Empty(t, res.Dropped)
	assert.Empty(t, res.Warnings)

	rec := res.Records[0]
	assert.Equal(t, "sg", rec.Account)
	assert.Equal(t, "01HXYZ", rec.CampaignID)
	assert.Equal(t, "April Newsletter", rec.CampaignName)
	assert.Equal(t, metrics.TypeCampaign, rec.CampaignType)
	assert.Equal(t, "email", rec.Channel)
	assert.Equal(t, "Sent", rec.Status)
	assert.Equal(t, time.Date(2025, 4, 2, 2, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, metrics.Of(20), rec.Values.Get("opens"))
	assert.Equal(t, metrics.Of(4), rec.Values.Get("clicks"))
	assert.Equal(t, metrics.Of(100), rec.Values.Get("sends"), "sends reconstructed from opens / open_rate")
	assert.False(t, rec.Values.Get("bounced").Present(), "null must stay absent, not zero")
}

func TestNormalizeDropsRowsMissingIdentity(t *testing.T) {
	n := newTestNormalizer(t, Options{})

	res, err := n.Normalize(RawBatch{
		Account: "au",
		Rows: []RawRow{
			{"send_time": "2025-04-02", "opens": 1},
			{"campaign_id": "c2", "opens": 1},
			{"campaign_id": "c3", "send_time": "not a date"},
			{"campaign_id": "c4", "send_time": "2025-04-02"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "c4", res.Records[0].CampaignID)
	require.Len(t, res.Dropped, 3)
	assert.Equal(t, "campaign_id", res.Dropped[0].Field)
	assert.Equal(t, "timestamp", res.Dropped[1].Field)
	assert.Equal(t, "send_time", res.Dropped[2].Field)
	assert.Contains(t, res.Dropped[0].Error(), `account "au" row 0`)
}

func TestNormalizeUnknownFieldWarnsOnce(t *testing.T) {
	n := newTestNormalizer(t, Options{})

	res, err := n.Normalize(RawBatch{
		Account: "hk",
		Rows: []RawRow{
			{"campaign_id": "a", "send_time": "2025-04-02", "mystery": 3},
			{"campaign_id": "b", "send_time": "2025-04-03", "mystery": 4},
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "mystery", res.Warnings[0].Field)
}

func TestNormalizeBadValuesAreAbsent(t *testing.T) {
	n := newTestNormalizer(t, Options{})

	res, err := n.Normalize(RawBatch{
		Account: "tw",
		Rows: []RawRow{{
			"campaign_id":  "c1",
			"send_time":    "2025-04-02",
			"opens":        "NaN",
			"clicks":       "lots",
			"bounced":      -3,
			"delivered":    "1,250",
			"unsubscribes": json.Number("2"),
		}},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	vals := res.Records[0].Values
	assert.False(t, vals.Get("opens").Present())
	assert.False(t, vals.Get("clicks").Present())
	assert.False(t, vals.Get("bounced").Present())
	assert.Equal(t, metrics.Of(1250), vals.Get("delivered"))
	assert.Equal(t, metrics.Of(2), vals.Get("unsubscribes"))
	assert.Len(t, res.Warnings, 2, "unparseable and negative values are reported")
}

func TestNormalizeAccountTimezoneAndUnits(t *testing.T) {
	n := newTestNormalizer(t, Options{
		ReferenceTimezone: "UTC",
		Accounts: map[string]AccountOptions{
			"sg": {
				Timezone: "Asia/Singapore",
				Units:    map[string]float64{"revenue": 0.01},
				Aliases:  map[string]string{"Total Revenue (cents)": "revenue"},
			},
		},
	})

	res, err := n.Normalize(RawBatch{
		Account: "sg",
		Rows: []RawRow{{
			"Campaign_ID":           "c1",
			"send_time":             "2025-04-02 08:00:00",
			"total revenue (cents)": 12345,
		}},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.InDelta(t, 123.45, rec.Values.Get("revenue").Or(-1), 1e-9)
	assert.Contains(t, n.BaseMetrics(), "revenue")
}

func TestNormalizeUnixTimestamp(t *testing.T) {
	n := newTestNormalizer(t, Options{})
	res, err := n.Normalize(RawBatch{
		Account: "intl",
		Rows:    []RawRow{{"campaign_id": 42.0, "send_time": float64(1743552000)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "42", res.Records[0].CampaignID)
	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), res.Records[0].Timestamp)
}

func TestNormalizeBackfillSkipsZeroRate(t *testing.T) {
	n := newTestNormalizer(t, Options{Backfill: DefaultBackfill()})
	res, err := n.Normalize(RawBatch{
		Account: "au",
		Rows:    []RawRow{{"campaign_id": "c", "send_time": "2025-04-02", "opens": 0, "open_rate": 0}},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.False(t, res.Records[0].Values.Get("sends").Present())
	assert.Equal(t, metrics.Of(0), res.Records[0].Values.Get("opens"))
}

func TestNormalizeBatchErrors(t *testing.T) {
	n := newTestNormalizer(t, Options{})

	_, err := n.Normalize(RawBatch{})
	assert.ErrorIs(t, err, ErrEmptyAccount)

	_, err = n.Normalize(RawBatch{Account: "au", Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestNewNormalizerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"bad reference tz", Options{ReferenceTimezone: "Nowhere/City"}},
		{"empty canonical", Options{Aliases: map[string]string{"opens": ""}}},
		{"bad account tz", Options{Accounts: map[string]AccountOptions{"sg": {Timezone: "Bad/Zone"}}}},
		{"bad unit", Options{Accounts: map[string]AccountOptions{"sg": {Units: map[string]float64{"revenue": 0}}}}},
		{"backfill unknown", Options{Backfill: []Backfill{{Target: "sendz", Numerator: "opens", RateField: "open_rate"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNormalizer(tt.opts)
			require.Error(t, err)
			assert.True(t, metrics.IsConfigError(err))
		})
	}
}

func TestNormalizeDropsForeignAccountRows(t *testing.T) {
	n := newTestNormalizer(t, Options{})

	res, err := n.Normalize(RawBatch{
		Account: "au",
		Rows: []RawRow{
			{"account": "sg", "campaign_id": "c1", "send_time": "2025-04-02"},
			{"account": "au", "campaign_id": "c2", "send_time": "2025-04-02"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "c2", res.Records[0].CampaignID)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "account", res.Dropped[0].Field)
}
