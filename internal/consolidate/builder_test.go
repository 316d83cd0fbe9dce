package consolidate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ignite/campaign-pulse/internal/aggregate"
	"github.com/ignite/campaign-pulse/internal/datanorm"
	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	n, err := datanorm.NewNormalizer(datanorm.Options{Ignore: datanorm.DefaultIgnore()})
	require.NoError(t, err)
	r, err := grouping.NewResolver([]grouping.Rule{
		{Kind: grouping.KindPattern, Label: "Newsletter", Pattern: "(?i)newsletter", Field: grouping.FieldName},
		{Kind: grouping.KindExplicit, Label: "Promo", Members: []string{"P1"}},
	})
	require.NoError(t, err)
	calc, err := metrics.NewCalculator([]metrics.DerivedSpec{
		{Name: "open_rate", Numerator: "opens", Denominator: "sends", Precision: 2, Scale: 100, Unit: "%"},
		{Name: "click_rate", Numerator: "clicks", Denominator: "sends", Precision: 2, Scale: 100, Unit: "%"},
	})
	require.NoError(t, err)
	b, err := NewBuilder(n, r, calc, Options{MaxParallel: 2})
	require.NoError(t, err)
	return b
}

func row(id, name, ts string, sends, opens interface{}) datanorm.RawRow {
	return datanorm.RawRow{
		"campaign_id": id,
		"name":        name,
		"send_time":   ts,
		"sends":       sends,
		"opens":       opens,
	}
}

func newsletterInput() Input {
	return Input{Batches: []datanorm.RawBatch{
		{Account: "sg", Rows: []datanorm.RawRow{row("A1", "April Newsletter", "2025-04-01T09:00:00Z", 100, 20)}},
		{Account: "au", Rows: []datanorm.RawRow{row("B1", "Newsletter #12", "2025-04-02T09:00:00Z", 200, 30)}},
	}}
}

func byGroup() Request {
	return Request{Grouping: aggregate.Grouping{Dimensions: []aggregate.Dimension{aggregate.DimGroup}}}
}

func TestBuildNewsletterAcrossAccounts(t *testing.T) {
	b := newTestBuilder(t)

	table, err := b.Build(context.Background(), newsletterInput(), byGroup())
	require.NoError(t, err)
	require.NoError(t, table.Err())
	require.Len(t, table.Rows, 1)

	r := table.Rows[0]
	assert.Equal(t, "Newsletter", r.Key.Group)
	assert.Empty(t, r.Key.Account)
	assert.Equal(t, metrics.Of(300), r.Base.Get("sends"))
	assert.Equal(t, metrics.Of(50), r.Base.Get("opens"))
	assert.InDelta(t, 50.0/300.0, r.Value("open_rate").Or(-1), 1e-12)
	assert.Equal(t, metrics.Of(0), r.Value("click_rate"))

	assert.Equal(t, []string{"au", "sg"}, table.Accounts)
	assert.False(t, table.Partial)
	assert.False(t, table.SeparateAccounts)
	assert.NotEmpty(t, table.RunID)
	assert.Equal(t, []string{"opens", "sends", "open_rate", "click_rate"}, table.Columns())
}

func TestBuildSeparateAccounts(t *testing.T) {
	b := newTestBuilder(t)
	req := byGroup()
	req.SeparateAccounts = true

	table, err := b.Build(context.Background(), newsletterInput(), req)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.True(t, table.SeparateAccounts)
	assert.Equal(t, "au", table.Rows[0].Key.Account)
	assert.InDelta(t, 0.15, table.Rows[0].Value("open_rate").Or(-1), 1e-12)
	assert.Equal(t, "sg", table.Rows[1].Key.Account)
	assert.InDelta(t, 0.2, table.Rows[1].Value("open_rate").Or(-1), 1e-12)

	merged, err := aggregate.Reaggregate(table.Rows, byGroup().Grouping, b.Calculator())
	require.NoError(t, err)
	assert.InDelta(t, 50.0/300.0, merged[0].Value("open_rate").Or(-1), 1e-12)
}

func TestBuildPartialFailure(t *testing.T) {
	b := newTestBuilder(t)
	in := newsletterInput()
	in.Batches = append(in.Batches, datanorm.RawBatch{Account: "hk", Timezone: "Mars/Olympus"})
	in.FetchFailures = []AccountFailure{{Account: "tw", Stage: StageFetch, Reason: "status 500"}}

	table, err := b.Build(context.Background(), in, byGroup())
	require.NoError(t, err)
	assert.True(t, table.Partial)
	assert.Equal(t, []string{"au", "sg"}, table.Accounts)
	assert.InDelta(t, 50.0/300.0, table.Rows[0].Value("open_rate").Or(-1), 1e-12)

	var pf *PartialFailureError
	require.True(t, errors.As(table.Err(), &pf))
	assert.Equal(t, []string{"hk", "tw"}, pf.Accounts())
	assert.Equal(t, StageNormalize, pf.Failures[0].Stage)
	assert.Contains(t, pf.Error(), "2 account(s) excluded")
}

func TestBuildCountsDroppedRows(t *testing.T) {
	b := newTestBuilder(t)
	in := newsletterInput()
	in.Batches[0].Rows = append(in.Batches[0].Rows, row("", "No id", "2025-04-01T09:00:00Z", 5, 1))

	table, err := b.Build(context.Background(), in, byGroup())
	require.NoError(t, err)
	assert.Equal(t, 1, table.Dropped)
	assert.NotEmpty(t, table.Warnings)
	assert.Equal(t, metrics.Of(300), table.Rows[0].Base.Get("sends"))
}

func TestBuildIsIdempotent(t *testing.T) {
	b := newTestBuilder(t)
	req := Request{Grouping: aggregate.Grouping{
		Dimensions:  []aggregate.Dimension{aggregate.DimGroup, aggregate.DimCampaign},
		Granularity: aggregate.GranularityDay,
	}}

	first, err := b.Build(context.Background(), newsletterInput(), req)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), newsletterInput(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)

	again, err := aggregate.Reaggregate(first.Rows, first.Grouping, b.Calculator())
	require.NoError(t, err)
	assert.Equal(t, first.Rows, again)
}

func TestBuildRejectsBadRequest(t *testing.T) {
	b := newTestBuilder(t)

	_, err := b.Build(context.Background(), newsletterInput(), Request{
		Grouping: aggregate.Grouping{Dimensions: []aggregate.Dimension{"subject_line"}},
	})
	assert.True(t, metrics.IsConfigError(err))

	_, err = b.Build(context.Background(), newsletterInput(), Request{RollingWindow: 3})
	assert.True(t, metrics.IsConfigError(err), "rolling needs a time granularity")
}

func TestBuildCancelled(t *testing.T) {
	b := newTestBuilder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, newsletterInput(), byGroup())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBuilderValidatesSpecs(t *testing.T) {
	n, err := datanorm.NewNormalizer(datanorm.Options{})
	require.NoError(t, err)
	calc, err := metrics.NewCalculator([]metrics.DerivedSpec{{Name: "x_rate", Numerator: "xs", Denominator: "sends"}})
	require.NoError(t, err)

	_, err = NewBuilder(n, nil, calc, Options{})
	assert.True(t, metrics.IsConfigError(err))

	_, err = NewBuilder(nil, nil, nil, Options{})
	assert.ErrorIs(t, err, ErrNoNormalizer)
}

func TestScorecardsAndBreakdown(t *testing.T) {
	b := newTestBuilder(t)
	req := byGroup()
	req.SeparateAccounts = true
	table, err := b.Build(context.Background(), newsletterInput(), req)
	require.NoError(t, err)

	cards, err := Scorecards(table, []string{"open_rate", "sends"}, b.Calculator(), map[string]float64{"open_rate": 0.2})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "16.67%", cards[0].Display)
	assert.Equal(t, DirectionLower, cards[0].Direction)
	assert.InDelta(t, (50.0/300.0/0.2-1)*100, cards[0].DeltaPct.Or(0), 1e-9)
	assert.Equal(t, "300", cards[1].Display)
	assert.False(t, cards[1].DeltaPct.Present())

	_, err = Scorecards(table, []string{"ctor"}, b.Calculator(), nil)
	assert.ErrorIs(t, err, ErrUnknownMetric)

	ranked, err := Breakdown(table, "open_rate", aggregate.DimAccount, b.Calculator())
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "sg", ranked[0].Label)
	assert.Equal(t, "20.00%", ranked[0].Display)

	_, err = Breakdown(table, "open_rate", aggregate.DimCampaign, b.Calculator())
	assert.ErrorIs(t, err, ErrDimensionNotInTable)
}

func TestRenderings(t *testing.T) {
	b := newTestBuilder(t)
	in := newsletterInput()
	in.FetchFailures = []AccountFailure{{Account: "tw", Stage: StageFetch, Reason: "timeout"}}
	table, err := b.Build(context.Background(), in, byGroup())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table, b.Calculator()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "group,opens,sends,open_rate,click_rate", lines[0])
	assert.Equal(t, "Newsletter,50,300,16.67,0.00", lines[1])

	md := Markdown(table, b.Calculator(), 0)
	assert.Contains(t, md, "| group | opens | sends | open_rate | click_rate |")
	assert.Contains(t, md, "| Newsletter | 50 | 300 | 16.67% | 0.00% |")
	assert.Contains(t, md, "tw (fetch: timeout)")
}

func TestBuildTimeWindow(t *testing.T) {
	b := newTestBuilder(t)
	req := byGroup()
	req.From = time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)

	table, err := b.Build(context.Background(), newsletterInput(), req)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, metrics.Of(200), table.Rows[0].Base.Get("sends"), "the sg campaign on April 1st is outside the window")

	req.To = req.From.Add(-time.Hour)
	_, err = b.Build(context.Background(), newsletterInput(), req)
	assert.True(t, metrics.IsConfigError(err))
}

func TestBuildByChannelAndStatus(t *testing.T) {
	b := newTestBuilder(t)
	in := newsletterInput()
	in.Batches[0].Rows[0]["send_channel"] = "email"
	in.Batches[0].Rows[0]["status"] = "Sent"
	sms := row("S1", "Flash SMS", "2025-04-03T09:00:00Z", 40, 8)
	sms["send_channel"] = "sms"
	sms["status"] = "Sent"
	in.Batches[1].Rows = append(in.Batches[1].Rows, sms)
	in.Batches[1].Rows[0]["send_channel"] = "email"
	in.Batches[1].Rows[0]["status"] = "Cancelled"

	req := Request{Grouping: aggregate.Grouping{Dimensions: []aggregate.Dimension{aggregate.DimChannel, aggregate.DimStatus}}}
	table, err := b.Build(context.Background(), in, req)
	require.NoError(t, err)
	assert.Empty(t, table.Warnings, "channel and status are identity fields, not unknown metrics")
	require.Len(t, table.Rows, 3)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table, b.Calculator()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "channel,status,opens,sends,open_rate,click_rate", lines[0])
	assert.Equal(t, "email,Cancelled,30,200,15.00,0.00", lines[1])
	assert.Equal(t, "email,Sent,20,100,20.00,0.00", lines[2])
	assert.Equal(t, "sms,Sent,8,40,20.00,0.00", lines[3])

	ranked, err := Breakdown(table, "sends", aggregate.DimChannel, b.Calculator())
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "email", ranked[0].Label)
	assert.Equal(t, "300", ranked[0].Display)
}
