package aggregate

import (
	"testing"

	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingWindow(t *testing.T) {
	calc := testCalc(t)
	g := Grouping{Dimensions: []Dimension{DimGroup}, Granularity: GranularityDay}
	records := []metrics.Record{
		rec("sg", "C1", "G", day(1), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(10)}),
		rec("sg", "C2", "G", day(2), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(30)}),
		rec("sg", "C3", "G", day(5), metrics.Set{"sends": metrics.Of(100), "opens": metrics.Of(50)}),
	}
	daily, err := Aggregate(records, g, calc)
	require.NoError(t, err)

	rolled, err := Rolling(daily, g, 3, calc)
	require.NoError(t, err)
	require.Len(t, rolled, 3)

	assert.Equal(t, metrics.Of(100), rolled[0].Base.Get("sends"))
	assert.Equal(t, metrics.Of(200), rolled[1].Base.Get("sends"))
	assert.InDelta(t, 0.2, rolled[1].Value("open_rate").Or(-1), 1e-12)
	// Day 5 window covers days 3..5: days 1 and 2 fall out.
	assert.Equal(t, metrics.Of(100), rolled[2].Base.Get("sends"))
	assert.Equal(t, 1, rolled[2].Records)
}

func TestRollingNeedsTimeBuckets(t *testing.T) {
	_, err := Rolling(nil, Grouping{Dimensions: []Dimension{DimGroup}}, 3, nil)
	assert.True(t, metrics.IsConfigError(err))

	_, err = Rolling(nil, Grouping{Granularity: GranularityDay}, 0, nil)
	assert.True(t, metrics.IsConfigError(err))
}
