package consolidate

import (
	"errors"
	"fmt"
	"strings"
)

// Failure stages.
const (
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageAggregate = "aggregate"
)

// AccountFailure names an account excluded from a table and why.
type AccountFailure struct {
	Account string `json:"account"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason"`
}

func (f AccountFailure) Error() string {
	return fmt.Sprintf("%s (%s: %s)", f.Account, f.Stage, f.Reason)
}

// PartialFailureError is returned by Table.Err when some accounts were
// excluded. The table itself is still valid for the remaining accounts.
type PartialFailureError struct {
	Failures []AccountFailure
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("partial failure: %d account(s) excluded: %s", len(e.Failures), strings.Join(parts, ", "))
}

// Accounts lists the failed account names.
func (e *PartialFailureError) Accounts() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Account
	}
	return out
}

// IsPartialFailure reports whether err wraps a PartialFailureError.
func IsPartialFailure(err error) bool {
	var pf *PartialFailureError
	return errors.As(err, &pf)
}

var (
	// ErrNoNormalizer is returned when a Builder is created without one.
	ErrNoNormalizer = errors.New("consolidate: normalizer is required")
	// ErrDimensionNotInTable is returned for a breakdown on a dimension the
	// table was not grouped by.
	ErrDimensionNotInTable = errors.New("consolidate: dimension not in table")
	// ErrUnknownMetric is returned for a scorecard on a metric the table
	// does not carry.
	ErrUnknownMetric = errors.New("consolidate: unknown metric")
)
