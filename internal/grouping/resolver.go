// Package grouping assigns every campaign exactly one group label from an
// ordered list of rules.
package grouping

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/ignite/campaign-pulse/internal/metrics"
)

// Ungrouped is the label for campaigns no rule matches.
const Ungrouped = "Ungrouped"

// Kind is the rule variant.
type Kind string

const (
	KindExplicit Kind = "explicit"
	KindPattern  Kind = "pattern"
	KindDefault  Kind = "default"
)

// Field is the campaign attribute a pattern rule tests.
type Field string

const (
	FieldID   Field = "id"
	FieldName Field = "name"
	FieldType Field = "type"
)

// Rule maps campaigns to a label. Lower Priority wins; equal priorities
// keep declaration order.
type Rule struct {
	Kind     Kind     `yaml:"kind" json:"kind"`
	Label    string   `yaml:"label" json:"label"`
	Priority int      `yaml:"priority" json:"priority"`
	Members  []string `yaml:"members,omitempty" json:"members,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Field    Field    `yaml:"field,omitempty" json:"field,omitempty"`
}

// Campaign is the metadata a rule can look at.
type Campaign struct {
	ID   string
	Name string
	Type metrics.CampaignType
}

type compiledRule struct {
	Rule
	members map[string]bool
	re      *regexp.Regexp
}

func (r *compiledRule) matches(c Campaign) bool {
	switch r.Kind {
	case KindExplicit:
		return r.members[c.ID]
	case KindPattern:
		switch r.Field {
		case FieldID:
			return r.re.MatchString(c.ID)
		case FieldType:
			return r.re.MatchString(string(c.Type))
		default:
			return r.re.MatchString(c.Name)
		}
	case KindDefault:
		return true
	}
	return false
}

// Resolver evaluates compiled rules. It is immutable and safe for
// concurrent use.
type Resolver struct {
	rules []*compiledRule
}

// NewResolver validates and compiles rules.
func NewResolver(rules []Rule) (*Resolver, error) {
	compiled := make([]*compiledRule, 0, len(rules))
	for i, r := range rules {
		item := fmt.Sprintf("#%d %s", i, r.Label)
		if r.Label == "" {
			return nil, metrics.NewConfigError("grouping rule", item, "label is required")
		}
		cr := &compiledRule{Rule: r}
		switch r.Kind {
		case KindExplicit:
			if len(r.Members) == 0 {
				return nil, metrics.NewConfigError("grouping rule", item, "explicit rule needs members")
			}
			cr.members = make(map[string]bool, len(r.Members))
			for _, m := range r.Members {
				cr.members[m] = true
			}
		case KindPattern:
			switch r.Field {
			case "":
				cr.Field = FieldName
			case FieldID, FieldName, FieldType:
			default:
				return nil, metrics.NewConfigError("grouping rule", item, "unknown field %q", r.Field)
			}
			if r.Pattern == "" {
				return nil, metrics.NewConfigError("grouping rule", item, "pattern is required")
			}
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, metrics.NewConfigError("grouping rule", item, "invalid pattern: %v", err)
			}
			cr.re = re
		case KindDefault:
		default:
			return nil, metrics.NewConfigError("grouping rule", item, "unknown kind %q", r.Kind)
		}
		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})
	return &Resolver{rules: compiled}, nil
}

// Resolve returns the label of the first matching rule, or Ungrouped.
func (r *Resolver) Resolve(c Campaign) string {
	if r == nil {
		return Ungrouped
	}
	for _, rule := range r.rules {
		if rule.matches(c) {
			return rule.Label
		}
	}
	return Ungrouped
}

// Label returns copies of records carrying their resolved group label.
func (r *Resolver) Label(records []metrics.Record) []metrics.Record {
	out := make([]metrics.Record, len(records))
	for i, rec := range records {
		out[i] = rec.WithGroup(r.Resolve(Campaign{ID: rec.CampaignID, Name: rec.CampaignName, Type: rec.CampaignType}))
	}
	return out
}

// Rules returns the rules in evaluation order.
func (r *Resolver) Rules() []Rule {
	if r == nil {
		return nil
	}
	out := make([]Rule, len(r.rules))
	for i, cr := range r.rules {
		out[i] = cr.Rule
	}
	return out
}
