package metrics

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ZeroPolicy decides what a ratio yields when its denominator is zero.
type ZeroPolicy string

const (
	// ZeroUndefined yields Absent.
	ZeroUndefined ZeroPolicy = "undefined"
	// ZeroAsZero yields 0.
	ZeroAsZero ZeroPolicy = "zero"
)

// DerivedSpec defines a metric computed from base or other derived metrics.
// An empty Denominator means the metric is not a ratio and copies its
// numerator.
type DerivedSpec struct {
	Name        string     `yaml:"name" json:"name"`
	Numerator   string     `yaml:"numerator" json:"numerator"`
	Denominator string     `yaml:"denominator,omitempty" json:"denominator,omitempty"`
	ZeroPolicy  ZeroPolicy `yaml:"zero_policy,omitempty" json:"zero_policy,omitempty"`

	// Presentation only. Values are stored unrounded and unscaled.
	Precision int32   `yaml:"precision" json:"precision"`
	Scale     float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	Unit      string  `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// IsRatio reports whether the spec divides two metrics.
func (s DerivedSpec) IsRatio() bool { return s.Denominator != "" }

// Compute evaluates the spec against a metric set. It never panics and
// never returns NaN or an infinity.
func (s DerivedSpec) Compute(set Set) Value {
	num := set.Get(s.Numerator)
	if !s.IsRatio() {
		return num
	}

	den, ok := set.Get(s.Denominator).Float()
	if !ok {
		return Absent
	}
	if den == 0 {
		if s.ZeroPolicy == ZeroAsZero {
			return Of(0)
		}
		return Absent
	}

	// A present denominator with nothing counted on top means zero events.
	n := num.Or(0)
	return Of(n / den)
}

// Present formats a value for display: scaled, rounded half away from zero
// to Precision places, with Unit appended. Absent renders as "n/a".
func (s DerivedSpec) Present(v Value) string {
	d, ok := s.Decimal(v)
	if !ok {
		return "n/a"
	}
	return d.StringFixed(s.Precision) + s.Unit
}

// Decimal returns the scaled and rounded presentation value.
func (s DerivedSpec) Decimal(v Value) (decimal.Decimal, bool) {
	f, ok := v.Float()
	if !ok {
		return decimal.Zero, false
	}
	d := decimal.NewFromFloat(f)
	if s.Scale != 0 && s.Scale != 1 {
		d = d.Mul(decimal.NewFromFloat(s.Scale))
	}
	return d.Round(s.Precision), true
}

// Calculator evaluates a validated set of derived specs. It holds no
// mutable state and is safe for concurrent use.
type Calculator struct {
	declared []DerivedSpec
	ordered  []DerivedSpec
	byName   map[string]DerivedSpec
}

// NewCalculator validates specs and orders them so that every spec is
// evaluated after the derived metrics it references.
func NewCalculator(specs []DerivedSpec) (*Calculator, error) {
	byName := make(map[string]DerivedSpec, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, NewConfigError("derived metric", "", "name is required")
		}
		if s.Numerator == "" {
			return nil, NewConfigError("derived metric", s.Name, "numerator is required")
		}
		if _, dup := byName[s.Name]; dup {
			return nil, NewConfigError("derived metric", s.Name, "defined more than once")
		}
		switch s.ZeroPolicy {
		case "":
			s.ZeroPolicy = ZeroUndefined
		case ZeroUndefined, ZeroAsZero:
		default:
			return nil, NewConfigError("derived metric", s.Name, "unknown zero_policy %q", s.ZeroPolicy)
		}
		if s.Precision < 0 {
			return nil, NewConfigError("derived metric", s.Name, "precision must not be negative")
		}
		byName[s.Name] = s
	}

	ordered, err := topoSort(specs, byName)
	if err != nil {
		return nil, err
	}

	declared := make([]DerivedSpec, 0, len(specs))
	for _, s := range specs {
		declared = append(declared, byName[s.Name])
	}
	return &Calculator{declared: declared, ordered: ordered, byName: byName}, nil
}

// topoSort orders specs by their references to other derived specs,
// keeping declaration order among independent specs.
func topoSort(specs []DerivedSpec, byName map[string]DerivedSpec) ([]DerivedSpec, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(specs))
	ordered := make([]DerivedSpec, 0, len(specs))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return NewConfigError("derived metric", name, "reference cycle %v", append(path, name))
		}
		state[name] = visiting
		s := byName[name]
		for _, ref := range []string{s.Numerator, s.Denominator} {
			if _, derived := byName[ref]; derived {
				if err := visit(ref, append(path, name)); err != nil {
					return err
				}
			}
		}
		state[name] = done
		ordered = append(ordered, s)
		return nil
	}

	for _, s := range specs {
		if err := visit(s.Name, nil); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// ValidateAgainst checks every reference against the known base metrics.
// A reference to a metric that is neither base nor derived is fatal.
func (c *Calculator) ValidateAgainst(base []string) error {
	if c == nil {
		return nil
	}
	known := make(map[string]bool, len(base))
	for _, b := range base {
		known[b] = true
	}
	for _, s := range c.declared {
		if known[s.Name] {
			return NewConfigError("derived metric", s.Name, "name collides with a base metric")
		}
		for _, ref := range []string{s.Numerator, s.Denominator} {
			if ref == "" {
				continue
			}
			if _, derived := c.byName[ref]; !derived && !known[ref] {
				return NewConfigError("derived metric", s.Name, "references unknown metric %q", ref)
			}
		}
	}
	return nil
}

// Specs returns the specs in declaration order.
func (c *Calculator) Specs() []DerivedSpec {
	if c == nil {
		return nil
	}
	out := make([]DerivedSpec, len(c.declared))
	copy(out, c.declared)
	return out
}

// Names returns the derived metric names in declaration order.
func (c *Calculator) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.declared))
	for i, s := range c.declared {
		names[i] = s.Name
	}
	return names
}

// Spec looks up a spec by name.
func (c *Calculator) Spec(name string) (DerivedSpec, bool) {
	if c == nil {
		return DerivedSpec{}, false
	}
	s, ok := c.byName[name]
	return s, ok
}

// Derive computes every derived metric from a set of base metrics. The
// returned set only holds derived metrics.
func (c *Calculator) Derive(base Set) Set {
	out := make(Set)
	if c == nil {
		return out
	}
	work := base.Clone()
	for _, s := range c.ordered {
		v := s.Compute(work)
		work[s.Name] = v
		if v.Present() {
			out[s.Name] = v
		}
	}
	return out
}

// BaseNames lists the base metrics referenced by any spec, sorted.
func (c *Calculator) BaseNames() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, s := range c.declared {
		for _, ref := range []string{s.Numerator, s.Denominator} {
			if _, derived := c.byName[ref]; ref != "" && !derived {
				seen[ref] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
