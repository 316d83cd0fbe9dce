// Package metrics holds the metric primitives shared by every stage of the
// pipeline: absent-aware values, sparse metric sets, normalized records and
// the derived metric calculator.
package metrics

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Value is a single metric reading. The zero Value is absent: the platform
// did not report it. Absent is never the same thing as 0.
type Value struct {
	v  float64
	ok bool
}

// Absent is the explicit "not reported" marker.
var Absent = Value{}

// Of wraps a reported number. NaN and infinities collapse to Absent.
func Of(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Absent
	}
	return Value{v: v, ok: true}
}

// Present reports whether the value was reported.
func (x Value) Present() bool { return x.ok }

// Float returns the number and whether it is present.
func (x Value) Float() (float64, bool) { return x.v, x.ok }

// Or returns the number, or def when absent.
func (x Value) Or(def float64) float64 {
	if !x.ok {
		return def
	}
	return x.v
}

// Add sums two values. Absent is the identity element, but the sum of two
// absent values stays absent.
func (x Value) Add(y Value) Value {
	switch {
	case !x.ok && !y.ok:
		return Absent
	case !x.ok:
		return y
	case !y.ok:
		return x
	}
	return Of(x.v + y.v)
}

func (x Value) String() string {
	if !x.ok {
		return "absent"
	}
	return strconv.FormatFloat(x.v, 'f', -1, 64)
}

// MarshalJSON renders absent as null.
func (x Value) MarshalJSON() ([]byte, error) {
	if !x.ok {
		return []byte("null"), nil
	}
	return json.Marshal(x.v)
}

// UnmarshalJSON reads null as absent.
func (x *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*x = Absent
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*x = Of(f)
	return nil
}

// Set is a sparse metric-name to Value mapping. A missing key and an
// absent Value mean the same thing.
type Set map[string]Value

// Get returns the named value, Absent when missing.
func (s Set) Get(name string) Value {
	if s == nil {
		return Absent
	}
	return s[name]
}

// Clone returns a shallow copy that can be modified independently.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Names returns the metric names in lexical order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Sum adds sets metric by metric. A metric that is absent in every input
// is absent in the result.
func Sum(sets ...Set) Set {
	out := make(Set)
	for _, s := range sets {
		for name, v := range s {
			out[name] = out[name].Add(v)
		}
	}
	return out
}
