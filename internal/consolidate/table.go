package consolidate

import (
	"time"

	"github.com/ignite/campaign-pulse/internal/aggregate"
	"github.com/ignite/campaign-pulse/internal/metrics"
)

// Table is the consolidated view across accounts.
type Table struct {
	RunID            string             `json:"run_id"`
	GeneratedAt      time.Time          `json:"generated_at"`
	Grouping         aggregate.Grouping `json:"grouping"`
	SeparateAccounts bool               `json:"separate_accounts"`
	RollingWindow    int                `json:"rolling_window,omitempty"`
	BaseColumns      []string           `json:"base_columns"`
	DerivedColumns   []string           `json:"derived_columns"`
	Rows             []aggregate.Row    `json:"rows"`
	Accounts         []string           `json:"accounts"`
	Failures         []AccountFailure   `json:"failures,omitempty"`
	Dropped          int                `json:"dropped_records"`
	Warnings         []string           `json:"warnings,omitempty"`
	Partial          bool               `json:"partial"`
}

// Err returns a *PartialFailureError when any account was excluded.
func (t *Table) Err() error {
	if t == nil || len(t.Failures) == 0 {
		return nil
	}
	return &PartialFailureError{Failures: t.Failures}
}

// Columns lists base then derived metric names in display order.
func (t *Table) Columns() []string {
	out := make([]string, 0, len(t.BaseColumns)+len(t.DerivedColumns))
	out = append(out, t.BaseColumns...)
	return append(out, t.DerivedColumns...)
}

// Total collapses rows into one, recomputing ratios from the sums.
func Total(rows []aggregate.Row, calc *metrics.Calculator) aggregate.Row {
	total, err := aggregate.Reaggregate(rows, aggregate.Grouping{Granularity: aggregate.GranularityNone}, calc)
	if err != nil || len(total) == 0 {
		return aggregate.Row{Base: metrics.Set{}, Derived: metrics.Set{}}
	}
	return total[0]
}

// InLocation moves row buckets into loc. Tables decoded from JSON carry
// fixed offsets; built tables use the reference timezone.
func (t *Table) InLocation(loc *time.Location) {
	if t == nil || loc == nil {
		return
	}
	for i := range t.Rows {
		if b := t.Rows[i].Key.Bucket; !b.IsZero() {
			t.Rows[i].Key.Bucket = b.In(loc)
		}
	}
}
