package consolidate

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ignite/campaign-pulse/internal/aggregate"
	"github.com/ignite/campaign-pulse/internal/metrics"
)

func keyHeaders(t *Table) []string {
	var out []string
	for _, d := range t.Grouping.Dimensions {
		out = append(out, string(d))
		if d == aggregate.DimCampaign {
			out = append(out, "campaign_name")
		}
	}
	if t.Grouping.Granularity != "" && t.Grouping.Granularity != aggregate.GranularityNone {
		out = append(out, "bucket")
	}
	return out
}

func keyCells(t *Table, r aggregate.Row) []string {
	var out []string
	for _, d := range t.Grouping.Dimensions {
		switch d {
		case aggregate.DimAccount:
			out = append(out, r.Key.Account)
		case aggregate.DimGroup:
			out = append(out, r.Key.Group)
		case aggregate.DimCampaignType:
			out = append(out, string(r.Key.CampaignType))
		case aggregate.DimCampaign:
			out = append(out, r.Key.CampaignID, r.CampaignName)
		case aggregate.DimChannel:
			out = append(out, r.Key.Channel)
		case aggregate.DimStatus:
			out = append(out, r.Key.Status)
		}
	}
	if t.Grouping.Granularity != "" && t.Grouping.Granularity != aggregate.GranularityNone {
		out = append(out, r.Key.Bucket.Format(time.RFC3339))
	}
	return out
}

// WriteCSV writes one header line and one line per row. Derived metrics
// are rounded to their precision without units; absent values are empty.
func WriteCSV(w io.Writer, t *Table, calc *metrics.Calculator) error {
	cw := csv.NewWriter(w)
	header := append(keyHeaders(t), t.BaseColumns...)
	header = append(header, t.DerivedColumns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range t.Rows {
		line := keyCells(t, r)
		for _, name := range t.BaseColumns {
			v := r.Base.Get(name)
			if v.Present() {
				line = append(line, v.String())
			} else {
				line = append(line, "")
			}
		}
		for _, name := range t.DerivedColumns {
			spec, _ := calc.Spec(name)
			if d, ok := spec.Decimal(r.Derived.Get(name)); ok {
				line = append(line, d.StringFixed(spec.Precision))
			} else {
				line = append(line, "")
			}
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Markdown renders the table as a pipe table with presentation rounding.
// limit > 0 caps the number of rows; a footer notes what was cut and which
// accounts were excluded.
func Markdown(t *Table, calc *metrics.Calculator, limit int) string {
	var sb strings.Builder
	header := append(keyHeaders(t), t.BaseColumns...)
	header = append(header, t.DerivedColumns...)

	sb.WriteString("| " + strings.Join(header, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")

	rows := t.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for _, r := range rows {
		cells := keyCells(t, r)
		for _, name := range t.BaseColumns {
			v := r.Base.Get(name)
			if v.Present() {
				cells = append(cells, v.String())
			} else {
				cells = append(cells, "n/a")
			}
		}
		for _, name := range t.DerivedColumns {
			spec, _ := calc.Spec(name)
			cells = append(cells, spec.Present(r.Derived.Get(name)))
		}
		for i, c := range cells {
			cells[i] = strings.ReplaceAll(c, "|", "\\|")
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	if cut := len(t.Rows) - len(rows); cut > 0 {
		fmt.Fprintf(&sb, "\n_%d more row(s) not shown._\n", cut)
	}
	if len(t.Failures) > 0 {
		sb.WriteString("\nExcluded accounts:\n")
		for _, f := range t.Failures {
			fmt.Fprintf(&sb, "- %s\n", f.Error())
		}
	}
	return sb.String()
}
