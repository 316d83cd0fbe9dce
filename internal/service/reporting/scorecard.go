package reporting

import (
	"context"

	"github.com/ignite/campaign-pulse/internal/aggregate"
	"github.com/ignite/campaign-pulse/internal/consolidate"
)

// ScorecardRequest asks for metric totals, optionally broken down by one
// dimension.
type ScorecardRequest struct {
	ReportRequest
	Metrics []string `json:"metrics"`
	// Breakdown ranks one metric by this dimension.
	Breakdown       string `json:"breakdown"`
	BreakdownMetric string `json:"breakdown_metric"`
}

// ScorecardResult carries the totals and the optional breakdown.
type ScorecardResult struct {
	RunID      string                       `json:"run_id"`
	Accounts   []string                     `json:"accounts"`
	Partial    bool                         `json:"partial"`
	Failures   []consolidate.AccountFailure `json:"failures,omitempty"`
	Scorecards []consolidate.Scorecard      `json:"scorecards"`
	Breakdown  []consolidate.BreakdownRow   `json:"breakdown,omitempty"`
}

// Scorecard totals the table for req and compares each metric with its
// configured benchmark.
func (s *Service) Scorecard(ctx context.Context, req ScorecardRequest) (*ScorecardResult, error) {
	var dim aggregate.Dimension
	if req.Breakdown != "" {
		d, err := aggregate.ParseDimension(req.Breakdown)
		if err != nil {
			return nil, err
		}
		dim = d
		if !containsDimension(req.Dimensions, d) {
			req.Dimensions = []string{string(d)}
		}
	}

	table, err := s.Consolidate(ctx, req.ReportRequest)
	if err != nil {
		return nil, err
	}
	calc := s.Calculator()

	cards, err := consolidate.Scorecards(table, req.Metrics, calc, s.opts.Benchmarks)
	if err != nil {
		return nil, err
	}
	out := &ScorecardResult{
		RunID:      table.RunID,
		Accounts:   table.Accounts,
		Partial:    table.Partial,
		Failures:   table.Failures,
		Scorecards: cards,
	}

	if dim != "" {
		metric := req.BreakdownMetric
		if metric == "" && len(cards) > 0 {
			metric = cards[0].Metric
		}
		out.Breakdown, err = consolidate.Breakdown(table, metric, dim, calc)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func containsDimension(dims []string, d aggregate.Dimension) bool {
	for _, raw := range dims {
		if parsed, err := aggregate.ParseDimension(raw); err == nil && parsed == d {
			return true
		}
	}
	return false
}
