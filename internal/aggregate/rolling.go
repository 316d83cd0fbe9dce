package aggregate

import (
	"sort"
	"time"

	"github.com/ignite/campaign-pulse/internal/metrics"
)

// Rolling replaces each row's base metrics with the sum over the trailing
// window buckets of its series (same key apart from the bucket), then
// derives ratios from the rolling sums. Buckets with no row count as empty.
func Rolling(rows []Row, g Grouping, window int, calc *metrics.Calculator) ([]Row, error) {
	if !g.timed() {
		return nil, metrics.NewConfigError("rolling", string(g.Granularity), "rolling aggregates need a time granularity")
	}
	if window < 1 {
		return nil, metrics.NewConfigError("rolling", "", "window must be at least 1, got %d", window)
	}

	// Collapse duplicates first so each series holds one row per bucket.
	base, err := Reaggregate(rows, g, nil)
	if err != nil {
		return nil, err
	}

	series := make(map[mapKey][]Row)
	var order []mapKey
	for _, r := range base {
		seriesKey := r.Key
		seriesKey.Bucket = time.Time{}
		id := seriesKey.id()
		if _, ok := series[id]; !ok {
			order = append(order, id)
		}
		series[id] = append(series[id], r)
	}

	out := make([]Row, 0, len(base))
	for _, id := range order {
		s := series[id]
		sort.SliceStable(s, func(i, j int) bool { return s[i].Key.Bucket.Before(s[j].Key.Bucket) })

		lo := 0
		for hi, cur := range s {
			start := g.Granularity.Add(cur.Key.Bucket, -(window - 1))
			for s[lo].Key.Bucket.Before(start) {
				lo++
			}
			sum := make(metrics.Set)
			records := 0
			for _, r := range s[lo : hi+1] {
				for m, v := range r.Base {
					sum[m] = sum[m].Add(v)
				}
				records += r.Records
			}
			out = append(out, Row{
				Key:          cur.Key,
				CampaignName: cur.CampaignName,
				Base:         sum,
				Derived:      calc.Derive(sum),
				Records:      records,
			})
		}
	}
	sortRows(out)
	return out, nil
}
