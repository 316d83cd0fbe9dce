package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRate(policy ZeroPolicy) DerivedSpec {
	return DerivedSpec{Name: "open_rate", Numerator: "opens", Denominator: "sends", ZeroPolicy: policy, Precision: 2, Scale: 100, Unit: "%"}
}

func TestComputeZeroDenominator(t *testing.T) {
	set := Set{"sends": Of(0), "opens": Absent}

	assert.False(t, openRate(ZeroUndefined).Compute(set).Present())
	assert.Equal(t, Of(0), openRate(ZeroAsZero).Compute(set))
}

func TestComputeAbsentDenominator(t *testing.T) {
	set := Set{"opens": Of(10)}
	assert.False(t, openRate(ZeroAsZero).Compute(set).Present())
}

func TestComputeAbsentNumeratorCountsAsZero(t *testing.T) {
	set := Set{"sends": Of(50)}
	assert.Equal(t, Of(0), openRate(ZeroUndefined).Compute(set))
}

func TestComputeNonRatioCopiesNumerator(t *testing.T) {
	spec := DerivedSpec{Name: "total_revenue", Numerator: "revenue"}
	assert.Equal(t, Of(12.5), spec.Compute(Set{"revenue": Of(12.5)}))
	assert.False(t, spec.Compute(Set{}).Present())
}

func TestPresentRoundsOnlyForDisplay(t *testing.T) {
	spec := openRate(ZeroUndefined)
	v := spec.Compute(Set{"sends": Of(300), "opens": Of(50)})

	f, ok := v.Float()
	require.True(t, ok)
	assert.InDelta(t, 50.0/300.0, f, 1e-12)
	assert.Equal(t, "16.67%", spec.Present(v))
	assert.Equal(t, "n/a", spec.Present(Absent))
}

func TestCalculatorDerivesChainedSpecs(t *testing.T) {
	calc, err := NewCalculator([]DerivedSpec{
		{Name: "click_to_open_rate", Numerator: "click_rate", Denominator: "open_rate"},
		{Name: "open_rate", Numerator: "opens", Denominator: "sends"},
		{Name: "click_rate", Numerator: "clicks", Denominator: "sends"},
	})
	require.NoError(t, err)

	got := calc.Derive(Set{"sends": Of(200), "opens": Of(50), "clicks": Of(10)})

	assert.InDelta(t, 0.25, got.Get("open_rate").Or(-1), 1e-12)
	assert.InDelta(t, 0.05, got.Get("click_rate").Or(-1), 1e-12)
	assert.InDelta(t, 0.2, got.Get("click_to_open_rate").Or(-1), 1e-12)
	assert.Equal(t, []string{"click_to_open_rate", "open_rate", "click_rate"}, calc.Names())
}

func TestCalculatorRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name  string
		specs []DerivedSpec
	}{
		{"missing name", []DerivedSpec{{Numerator: "opens"}}},
		{"missing numerator", []DerivedSpec{{Name: "x"}}},
		{"duplicate", []DerivedSpec{{Name: "x", Numerator: "a"}, {Name: "x", Numerator: "b"}}},
		{"bad policy", []DerivedSpec{{Name: "x", Numerator: "a", Denominator: "b", ZeroPolicy: "nan"}}},
		{"cycle", []DerivedSpec{{Name: "a", Numerator: "b"}, {Name: "b", Numerator: "a"}}},
		{"self reference", []DerivedSpec{{Name: "a", Numerator: "a", Denominator: "sends"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCalculator(tt.specs)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestValidateAgainstUnknownMetric(t *testing.T) {
	calc, err := NewCalculator([]DerivedSpec{{Name: "open_rate", Numerator: "opens", Denominator: "sendz"}})
	require.NoError(t, err)

	err = calc.ValidateAgainst([]string{"opens", "sends"})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "sendz")

	require.NoError(t, calc.ValidateAgainst([]string{"opens", "sendz"}))
}

func TestValidateAgainstCollision(t *testing.T) {
	calc, err := NewCalculator([]DerivedSpec{{Name: "opens", Numerator: "unique_opens"}})
	require.NoError(t, err)
	assert.Error(t, calc.ValidateAgainst([]string{"opens", "unique_opens"}))
}

func TestBaseNames(t *testing.T) {
	calc, err := NewCalculator([]DerivedSpec{
		{Name: "open_rate", Numerator: "opens", Denominator: "sends"},
		{Name: "cto", Numerator: "clicks", Denominator: "open_rate"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"clicks", "opens", "sends"}, calc.BaseNames())
}
