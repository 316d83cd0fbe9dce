package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/osteele/liquid"
)

const systemPrompt = `You are a marketing analyst reviewing email campaign performance consolidated across {{ accounts | size }} Klaviyo account(s): {{ accounts | join: ", " }}.
The data was generated at {{ generated_at }} and is grouped by {{ dimensions | default: "nothing (one total row)" }}{% if granularity != "" %} per {{ granularity }}{% endif %}.{% if separate %} Accounts are kept separate.{% endif %}

Rates were derived from summed counts after merging accounts, so they are exact for each row. "n/a" means the value was not reported; never treat it as zero.
{% if partial %}
These accounts are missing from the data and are not included in any total:
{% for f in failures %}- {{ f }}
{% endfor %}{% endif %}
## Totals
{% for c in scorecards %}- {{ c.metric }}: {{ c.display }}{% if c.benchmark != "" %} (benchmark {{ c.benchmark }}, {{ c.direction }}){% endif %}
{% endfor %}
## Table
{{ table }}
Answer only from this data. Be direct, quantify, and say so when the data cannot answer the question.`

type promptTemplate struct {
	tpl *liquid.Template
}

func newPromptTemplate() (*promptTemplate, error) {
	engine := liquid.NewEngine()
	// {{ names | default: "x" }} for empty lists as well as nil
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	tpl, err := engine.ParseString(systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("parsing assistant prompt: %w", err)
	}
	return &promptTemplate{tpl: tpl}, nil
}

func (p *promptTemplate) render(t *consolidate.Table, calc *metrics.Calculator, cards []consolidate.Scorecard, maxRows int) (string, error) {
	dims := make([]string, len(t.Grouping.Dimensions))
	for i, d := range t.Grouping.Dimensions {
		dims[i] = string(d)
	}
	failures := make([]string, len(t.Failures))
	for i, f := range t.Failures {
		failures[i] = f.Error()
	}

	scorecards := make([]map[string]interface{}, 0, len(cards))
	for _, c := range cards {
		bench := ""
		if c.Benchmark.Present() {
			bench = c.Benchmark.String()
			if spec, ok := calc.Spec(c.Metric); ok {
				bench = spec.Present(c.Benchmark)
			}
		}
		scorecards = append(scorecards, map[string]interface{}{
			"metric":    c.Metric,
			"display":   c.Display,
			"benchmark": bench,
			"direction": c.Direction,
		})
	}

	granularity := string(t.Grouping.Granularity)
	if granularity == "none" {
		granularity = ""
	}

	out, err := p.tpl.RenderString(liquid.Bindings{
		"accounts":     t.Accounts,
		"generated_at": t.GeneratedAt.UTC().Format(time.RFC3339),
		"dimensions":   strings.Join(dims, ", "),
		"granularity":  granularity,
		"separate":     t.SeparateAccounts,
		"partial":      t.Partial,
		"failures":     failures,
		"scorecards":   scorecards,
		"table":        consolidate.Markdown(t, calc, maxRows),
	})
	if err != nil {
		return "", fmt.Errorf("rendering assistant prompt: %w", err)
	}
	return out, nil
}
