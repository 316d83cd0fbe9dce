package aggregate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCalc(t *testing.T) *metrics.Calculator {
	t.Helper()
	calc, err := metrics.NewCalculator([]metrics.DerivedSpec{
		{Name: "open_rate", Numerator: "opens", Denominator: "sends"},
		{Name: "click_rate", Numerator: "clicks", Denominator: "sends"},
	})
	require.NoError(t, err)
	return calc
}

func day(d int) time.Time { return time.Date(2025, 4, d, 12, 0, 0, 0, time.UTC) }

func rec(account, id, group string, ts time.Time, vals metrics.Set) metrics.Record {
	return metrics.Record{
		Account:      account,
		CampaignID:   id,
		CampaignName: "Campaign " + id,
		CampaignType: metrics.TypeCampaign,
		Group:        group,
		Timestamp:    ts,
		Values:       vals,
	}
}

func TestAggregateSumThenDerive(t *testing.T) {
	records := []metrics.Record{
		rec("sg", "C1", "Newsletter", day(1), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(20)}),
		rec("sg", "C2", "Newsletter", day(2), metrics.Set{"sends": metrics.Of(200), "opens": metrics.Of(30)}),
	}

	rows, err := Aggregate(records, Grouping{Dimensions: []Dimension{DimGroup}}, testCalc(t))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "Newsletter", row.Key.Group)
	assert.Equal(t, metrics.Of(300), row.Base.Get("sends"))
	assert.Equal(t, metrics.Of(50), row.Base.Get("opens"))
	assert.InDelta(t, 50.0/300.0, row.Value("open_rate").Or(-1), 1e-12)
	// Averaging the per-campaign rates (0.2 and 0.15) would give 0.175.
	assert.NotEqual(t, 0.175, row.Value("open_rate").Or(-1))
	assert.Equal(t, 2, row.Records)
	assert.Empty(t, row.CampaignName, "campaign names only travel with the campaign dimension")
}

func TestAggregateAbsentPropagation(t *testing.T) {
	records := []metrics.Record{
		rec("sg", "C1", "G", day(1), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(20)}),
		rec("sg", "C2", "G", day(1), metrics.Set{"sends": metrics.Of(50)}),
	}

	rows, err := Aggregate(records, Grouping{Dimensions: []Dimension{DimGroup}}, testCalc(t))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, metrics.Of(20), rows[0].Base.Get("opens"), "absent contributes nothing")
	assert.False(t, rows[0].Base.Get("clicks").Present(), "absent everywhere stays absent")
	assert.Equal(t, metrics.Of(0), rows[0].Value("click_rate"), "absent numerator over real sends is zero")
}

func TestAggregateZeroSendsUndefinedRate(t *testing.T) {
	records := []metrics.Record{rec("au", "C1", "G", day(1), metrics.Set{"sends": metrics.Of(0)})}

	rows, err := Aggregate(records, Grouping{Dimensions: []Dimension{DimGroup}}, testCalc(t))
	require.NoError(t, err)
	assert.False(t, rows[0].Value("open_rate").Present())
}

func TestAggregateDeterministicOrder(t *testing.T) {
	records := []metrics.Record{
		rec("sg", "C3", "Promo", day(3), metrics.Set{"sends": metrics.Of(1)}),
		rec("au", "C1", "Newsletter", day(2), metrics.Set{"sends": metrics.Of(1)}),
		rec("sg", "C2", "Newsletter", day(1), metrics.Set{"sends": metrics.Of(1)}),
		rec("au", "C4", "Newsletter", day(1), metrics.Set{"sends": metrics.Of(1)}),
	}
	g := Grouping{Dimensions: []Dimension{DimAccount, DimGroup}, Granularity: GranularityDay}

	first, err := Aggregate(records, g, nil)
	require.NoError(t, err)

	reversed := make([]metrics.Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	second, err := Aggregate(reversed, g, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 4)
	assert.Equal(t, "au", first[0].Key.Account)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), first[0].Key.Bucket)
	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), first[1].Key.Bucket)
	assert.Equal(t, "Newsletter", first[2].Key.Group)
	assert.Equal(t, "Promo", first[3].Key.Group)
}

func TestReaggregateIsIdempotent(t *testing.T) {
	calc := testCalc(t)
	records := []metrics.Record{
		rec("sg", "C1", "Newsletter", day(1), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(20)}),
		rec("au", "C2", "Newsletter", day(8), metrics.Set{"sends": metrics.Of(200), "clicks": metrics.Of(4)}),
		rec("au", "C3", "Promo", day(8), metrics.Set{"sends": metrics.Of(0)}),
	}
	g := Grouping{Dimensions: []Dimension{DimAccount, DimGroup, DimCampaign}, Granularity: GranularityWeek}

	once, err := Aggregate(records, g, calc)
	require.NoError(t, err)
	twice, err := Reaggregate(once, g, calc)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestReaggregateToCoarserKey(t *testing.T) {
	calc := testCalc(t)
	records := []metrics.Record{
		rec("sg", "C1", "Newsletter", day(1), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(20)}),
		rec("au", "C2", "Newsletter", day(2), metrics.Set{"sends": metrics.Of(200), "opens": metrics.Of(30)}),
	}
	perAccount, err := Aggregate(records, Grouping{Dimensions: []Dimension{DimAccount, DimGroup}}, calc)
	require.NoError(t, err)
	require.Len(t, perAccount, 2)

	merged, err := Reaggregate(perAccount, Grouping{Dimensions: []Dimension{DimGroup}}, calc)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Empty(t, merged[0].Key.Account)
	assert.InDelta(t, 50.0/300.0, merged[0].Value("open_rate").Or(-1), 1e-12)
}

func TestAggregateRejectsBadGrouping(t *testing.T) {
	_, err := Aggregate(nil, Grouping{Dimensions: []Dimension{"subject"}}, nil)
	assert.True(t, metrics.IsConfigError(err))

	_, err = Aggregate(nil, Grouping{Dimensions: []Dimension{DimGroup, DimGroup}}, nil)
	assert.True(t, metrics.IsConfigError(err))

	_, err = Aggregate(nil, Grouping{Granularity: "fortnight"}, nil)
	assert.True(t, metrics.IsConfigError(err))
}

func TestGranularityTruncate(t *testing.T) {
	ts := time.Date(2025, 4, 3, 15, 42, 7, 0, time.UTC) // Thursday

	assert.Equal(t, time.Date(2025, 4, 3, 15, 0, 0, 0, time.UTC), GranularityHour.Truncate(ts))
	assert.Equal(t, time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC), GranularityDay.Truncate(ts))
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), GranularityWeek.Truncate(ts))
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), GranularityMonth.Truncate(ts))
	assert.True(t, GranularityNone.Truncate(ts).IsZero())

	sunday := time.Date(2025, 4, 6, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), GranularityWeek.Truncate(sunday))
}

func TestParseHelpers(t *testing.T) {
	d, err := ParseDimension("Campaign_ID")
	require.NoError(t, err)
	assert.Equal(t, DimCampaign, d)

	g, err := ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, GranularityNone, g)

	_, err = ParseGranularity("fortnightly")
	assert.Error(t, err)
}

func TestKeyJSONOmitsUnselected(t *testing.T) {
	data, err := Key{Group: "Newsletter"}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"group":"Newsletter"}`, string(data))
}

func TestKeyJSON(t *testing.T) {
	k := Key{Group: "Newsletter", CampaignType: metrics.TypeCampaign, CampaignID: "A1", Bucket: time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(k)
	require.NoError(t, err)
	assert.JSONEq(t, `{"group":"Newsletter","campaign_type":"campaign","campaign_id":"A1","bucket":"2025-04-07T00:00:00Z"}`, string(data))

	var back Key
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, k, back)

	require.NoError(t, json.Unmarshal([]byte(`{"account":"sg"}`), &back))
	assert.Equal(t, Key{Account: "sg"}, back)
}

func TestReaggregateAfterJSONKeepsBuckets(t *testing.T) {
	sgt, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)
	records := []metrics.Record{
		rec("sg", "C1", "Newsletter", time.Date(2025, 4, 2, 9, 0, 0, 0, sgt), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(20)}),
	}
	g := Grouping{Dimensions: []Dimension{DimGroup}, Granularity: GranularityDay}

	fresh, err := Aggregate(records, g, testCalc(t))
	require.NoError(t, err)
	data, err := json.Marshal(fresh)
	require.NoError(t, err)
	var decoded []Row
	require.NoError(t, json.Unmarshal(data, &decoded))

	again, err := Reaggregate(decoded, g, testCalc(t))
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "2025-04-02T00:00:00+08:00", decoded[0].Key.Bucket.Format(time.RFC3339))
	assert.True(t, fresh[0].Key.Bucket.Equal(again[0].Key.Bucket), "bucket moved: %s", again[0].Key.Bucket)
	assert.Equal(t, "2025-04-02T00:00:00+08:00", again[0].Key.Bucket.Format(time.RFC3339))
}

func TestAggregateByChannelAndStatus(t *testing.T) {
	withMeta := func(r metrics.Record, channel, status string) metrics.Record {
		r.Channel = channel
		r.Status = status
		return r
	}
	records := []metrics.Record{
		withMeta(rec("sg", "C1", "G", day(1), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(20)}), "email", "Sent"),
		withMeta(rec("au", "C2", "G", day(2), metrics.Set{"sends": metrics.Of(50), "opens": metrics.Of(10)}), "sms", "Sent"),
		withMeta(rec("au", "C3", "G", day(3), metrics.Set{"sends": metrics.Of(200), "opens": metrics.Of(30)}), "email", "Cancelled"),
	}

	rows, err := Aggregate(records, Grouping{Dimensions: []Dimension{DimChannel}}, testCalc(t))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Key{Channel: "email"}, rows[0].Key)
	assert.Equal(t, metrics.Of(300), rows[0].Base.Get("sends"))
	assert.InDelta(t, 50.0/300.0, rows[0].Value("open_rate").Or(-1), 1e-12)
	assert.Equal(t, Key{Channel: "sms"}, rows[1].Key)

	rows, err = Aggregate(records, Grouping{Dimensions: []Dimension{DimStatus, DimChannel}}, testCalc(t))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Key{Channel: "email", Status: "Cancelled"}, rows[0].Key)

	merged, err := Reaggregate(rows, Grouping{Dimensions: []Dimension{DimStatus}}, testCalc(t))
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "Sent", merged[1].Key.Status)
	assert.Equal(t, metrics.Of(150), merged[1].Base.Get("sends"))

	data, err := json.Marshal(rows[0].Key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"email","status":"Cancelled"}`, string(data))
	var back Key
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rows[0].Key, back)

	d, err := ParseDimension("send_channel")
	require.NoError(t, err)
	assert.Equal(t, DimChannel, d)
	d, err = ParseDimension("status")
	require.NoError(t, err)
	assert.Equal(t, DimStatus, d)
}
