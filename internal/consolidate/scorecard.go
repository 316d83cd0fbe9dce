package consolidate

import (
	"fmt"
	"sort"

	"github.com/ignite/campaign-pulse/internal/aggregate"
	"github.com/ignite/campaign-pulse/internal/metrics"
)

// Comparison directions against a benchmark.
const (
	DirectionHigher = "higher"
	DirectionLower  = "lower"
	DirectionEqual  = "equal"
)

// Scorecard is one metric's total over a table, optionally compared with a
// benchmark.
type Scorecard struct {
	Metric    string        `json:"metric"`
	Value     metrics.Value `json:"value"`
	Display   string        `json:"display"`
	Benchmark metrics.Value `json:"benchmark"`
	DeltaPct  metrics.Value `json:"delta_pct"`
	Direction string        `json:"direction,omitempty"`
}

// Scorecards totals the table and reports each requested metric. A metric
// without a benchmark gets an absent delta.
func Scorecards(t *Table, names []string, calc *metrics.Calculator, benchmarks map[string]float64) ([]Scorecard, error) {
	if len(names) == 0 {
		names = calc.Names()
	}
	if err := checkMetrics(t, names, calc); err != nil {
		return nil, err
	}

	total := Total(t.Rows, calc)
	cards := make([]Scorecard, 0, len(names))
	for _, name := range names {
		v := total.Value(name)
		card := Scorecard{Metric: name, Value: v, Display: display(calc, name, v)}
		if bench, ok := benchmarks[name]; ok {
			card.Benchmark = metrics.Of(bench)
			card.DeltaPct, card.Direction = compare(v, bench)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func compare(v metrics.Value, bench float64) (metrics.Value, string) {
	f, ok := v.Float()
	if !ok || bench == 0 {
		return metrics.Absent, ""
	}
	delta := (f/bench - 1) * 100
	switch {
	case delta > 0:
		return metrics.Of(delta), DirectionHigher
	case delta < 0:
		return metrics.Of(delta), DirectionLower
	}
	return metrics.Of(0), DirectionEqual
}

// BreakdownRow is one value of a dimension with the metric re-derived for it.
type BreakdownRow struct {
	Key     aggregate.Key `json:"key"`
	Label   string        `json:"label"`
	Value   metrics.Value `json:"value"`
	Display string        `json:"display"`
}

// Breakdown collapses the table onto a single dimension and ranks it by the
// metric, highest first. Absent values sort last.
func Breakdown(t *Table, metric string, dim aggregate.Dimension, calc *metrics.Calculator) ([]BreakdownRow, error) {
	if !t.Grouping.Has(dim) {
		return nil, fmt.Errorf("%w: %s", ErrDimensionNotInTable, dim)
	}
	if err := checkMetrics(t, []string{metric}, calc); err != nil {
		return nil, err
	}

	g := aggregate.Grouping{Dimensions: []aggregate.Dimension{dim}, Granularity: aggregate.GranularityNone}
	rows, err := aggregate.Reaggregate(t.Rows, g, calc)
	if err != nil {
		return nil, err
	}

	out := make([]BreakdownRow, 0, len(rows))
	for _, r := range rows {
		v := r.Value(metric)
		out = append(out, BreakdownRow{
			Key:     r.Key,
			Label:   labelOf(r, dim),
			Value:   v,
			Display: display(calc, metric, v),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := out[i].Value.Float()
		b, bok := out[j].Value.Float()
		if aok != bok {
			return aok
		}
		return a > b
	})
	return out, nil
}

func labelOf(r aggregate.Row, dim aggregate.Dimension) string {
	switch dim {
	case aggregate.DimAccount:
		return r.Key.Account
	case aggregate.DimGroup:
		return r.Key.Group
	case aggregate.DimCampaignType:
		return string(r.Key.CampaignType)
	case aggregate.DimCampaign:
		if r.CampaignName != "" {
			return r.CampaignName
		}
		return r.Key.CampaignID
	case aggregate.DimChannel:
		return r.Key.Channel
	case aggregate.DimStatus:
		return r.Key.Status
	}
	return ""
}

func checkMetrics(t *Table, names []string, calc *metrics.Calculator) error {
	known := make(map[string]bool, len(t.BaseColumns))
	for _, n := range t.BaseColumns {
		known[n] = true
	}
	for _, n := range names {
		if known[n] {
			continue
		}
		if _, ok := calc.Spec(n); ok {
			continue
		}
		return fmt.Errorf("%w: %s", ErrUnknownMetric, n)
	}
	return nil
}

func display(calc *metrics.Calculator, name string, v metrics.Value) string {
	if spec, ok := calc.Spec(name); ok {
		return spec.Present(v)
	}
	if !v.Present() {
		return "n/a"
	}
	return v.String()
}
