// Package datanorm turns raw per-account platform rows into canonical
// metric records: one alias table, one reference timezone, one set of units.
package datanorm

import (
	"errors"
	"fmt"
	"sort"
	"time"
	_ "time/tzdata" // account timezones must resolve in slim containers

	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
)

// Normalizer maps raw batches onto metrics.Record. It is read-only after
// construction and safe for concurrent use across accounts.
type Normalizer struct {
	shared   *aliasTable
	accounts map[string]*accountRules
	opts     Options
	ref      *time.Location
}

type accountRules struct {
	table *aliasTable
	loc   *time.Location
	units map[string]float64
}

// NewNormalizer validates options and resolves every timezone up front.
func NewNormalizer(opts Options) (*Normalizer, error) {
	if opts.Aliases == nil {
		opts.Aliases = DefaultAliases()
	}
	if opts.Identity == nil {
		opts.Identity = DefaultIdentity()
	}
	if opts.ReferenceTimezone == "" {
		opts.ReferenceTimezone = "UTC"
	}

	ref, err := time.LoadLocation(opts.ReferenceTimezone)
	if err != nil {
		return nil, metrics.NewConfigError("normalizer", opts.ReferenceTimezone, "unknown reference timezone: %v", err)
	}

	if err := validateAliases("alias table", opts.Aliases); err != nil {
		return nil, err
	}
	for _, f := range []IdentityField{FieldCampaignID, FieldTimestamp} {
		if len(opts.Identity[f]) == 0 {
			return nil, metrics.NewConfigError("normalizer", string(f), "identity field needs at least one raw name")
		}
	}

	n := &Normalizer{
		shared:   newAliasTable(opts.Aliases, nil, opts.Identity, opts.Ignore, opts.Backfill),
		accounts: make(map[string]*accountRules, len(opts.Accounts)),
		opts:     opts,
		ref:      ref,
	}

	known := make(map[string]bool)
	for _, c := range n.shared.canonicalNames() {
		known[c] = true
	}
	for name, acct := range opts.Accounts {
		if err := validateAliases("account "+name+" aliases", acct.Aliases); err != nil {
			return nil, err
		}
		rules := &accountRules{loc: ref, units: acct.Units}
		if acct.Timezone != "" {
			loc, err := time.LoadLocation(acct.Timezone)
			if err != nil {
				return nil, metrics.NewConfigError("normalizer", name, "unknown timezone %q", acct.Timezone)
			}
			rules.loc = loc
		}
		if len(acct.Aliases) > 0 {
			rules.table = newAliasTable(opts.Aliases, acct.Aliases, opts.Identity, opts.Ignore, opts.Backfill)
			for _, c := range rules.table.canonicalNames() {
				known[c] = true
			}
		}
		for unit, scale := range acct.Units {
			if scale <= 0 {
				return nil, metrics.NewConfigError("normalizer", name, "unit scale for %q must be positive", unit)
			}
		}
		n.accounts[name] = rules
	}

	for _, b := range opts.Backfill {
		if b.Target == "" || b.Numerator == "" || b.RateField == "" {
			return nil, metrics.NewConfigError("backfill", b.Target, "target, numerator and rate_field are required")
		}
		if !known[b.Target] || !known[b.Numerator] {
			return nil, metrics.NewConfigError("backfill", b.Target, "references a metric missing from the alias table")
		}
	}

	return n, nil
}

func validateAliases(component string, aliases map[string]string) error {
	for raw, canonical := range aliases {
		if normalizeField(raw) == "" {
			return metrics.NewConfigError(component, raw, "empty raw field name")
		}
		if canonical == "" {
			return metrics.NewConfigError(component, raw, "empty canonical name")
		}
	}
	return nil
}

// BaseMetrics lists every canonical metric any account can produce.
func (n *Normalizer) BaseMetrics() []string {
	seen := make(map[string]bool)
	for _, c := range n.shared.canonicalNames() {
		seen[c] = true
	}
	for _, acct := range n.accounts {
		if acct.table != nil {
			for _, c := range acct.table.canonicalNames() {
				seen[c] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ReferenceLocation is the timezone every record timestamp is expressed in.
func (n *Normalizer) ReferenceLocation() *time.Location { return n.ref }

// ErrEmptyAccount is returned for a batch that names no account.
var ErrEmptyAccount = errors.New("batch has no account name")

// Normalize converts one account batch. Bad rows are dropped as
// SchemaErrors; the returned error is reserved for batch-level failures.
func (n *Normalizer) Normalize(batch RawBatch) (*Result, error) {
	start := time.Now()
	if batch.Account == "" {
		return nil, ErrEmptyAccount
	}

	table := n.shared
	loc := n.ref
	var units map[string]float64
	if acct, ok := n.accounts[batch.Account]; ok {
		if acct.table != nil {
			table = acct.table
		}
		loc = acct.loc
		units = acct.units
	}
	if batch.Timezone != "" {
		l, err := time.LoadLocation(batch.Timezone)
		if err != nil {
			return nil, fmt.Errorf("account %s: unknown batch timezone %q: %w", batch.Account, batch.Timezone, err)
		}
		loc = l
	}

	res := &Result{Account: batch.Account, Records: make([]metrics.Record, 0, len(batch.Rows))}
	unknown := make(map[string]bool)

	for i, raw := range batch.Rows {
		rec, serr := n.normalizeRow(batch.Account, i, raw, table, loc, units, res, unknown)
		if serr != nil {
			res.Dropped = append(res.Dropped, serr)
			logger.Warn("dropped record", "account", serr.Account, "row", serr.Row, "field", serr.Field, "reason", serr.Reason)
			continue
		}
		res.Records = append(res.Records, rec)
	}

	res.Duration = time.Since(start)
	logger.Debug("normalized batch",
		"account", batch.Account,
		"rows", len(batch.Rows),
		"records", len(res.Records),
		"dropped", len(res.Dropped),
		"warnings", len(res.Warnings),
	)
	return res, nil
}

func (n *Normalizer) normalizeRow(
	account string,
	idx int,
	raw RawRow,
	table *aliasTable,
	loc *time.Location,
	units map[string]float64,
	res *Result,
	unknown map[string]bool,
) (metrics.Record, *SchemaError) {
	row := normalizeRow(raw)
	warn := func(field, msg string) {
		w := Warning{Account: account, Row: idx, Field: field, Message: msg}
		res.Warnings = append(res.Warnings, w)
		logger.Warn("normalization warning", "account", account, "row", idx, "field", field, "message", msg)
	}

	rec := metrics.Record{Account: account, Values: make(metrics.Set)}

	// Rows inherit the batch account; a row naming another account is
	// not this batch's data.
	if v, field := table.lookupIdentity(row, FieldAccount); v != nil {
		if got := parseString(v); got != account {
			return rec, &SchemaError{Account: account, Row: idx, Field: field, Reason: fmt.Sprintf("account identifier %q does not match batch", got)}
		}
	}

	v, _ := table.lookupIdentity(row, FieldCampaignID)
	rec.CampaignID = parseString(v)
	if rec.CampaignID == "" {
		return rec, &SchemaError{Account: account, Row: idx, Field: string(FieldCampaignID), Reason: "missing campaign identifier"}
	}

	v, field := table.lookupIdentity(row, FieldTimestamp)
	if v == nil {
		return rec, &SchemaError{Account: account, Row: idx, Field: string(FieldTimestamp), Reason: "missing timestamp"}
	}
	ts, err := parseTimestamp(v, loc, n.ref)
	if err != nil {
		return rec, &SchemaError{Account: account, Row: idx, Field: field, Reason: fmt.Sprintf("bad timestamp %v", v)}
	}
	rec.Timestamp = ts

	if v, _ := table.lookupIdentity(row, FieldCampaignName); v != nil {
		rec.CampaignName = parseString(v)
	}
	rec.CampaignType = metrics.TypeOther
	if v, _ := table.lookupIdentity(row, FieldCampaignType); v != nil {
		rec.CampaignType = metrics.ParseCampaignType(parseString(v))
	}
	if v, _ := table.lookupIdentity(row, FieldChannel); v != nil {
		rec.Channel = parseString(v)
	}
	if v, _ := table.lookupIdentity(row, FieldStatus); v != nil {
		rec.Status = parseString(v)
	}

	fields := make([]string, 0, len(row))
	for f := range row {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		canonical, ok := table.metrics[f]
		if !ok {
			if !table.ignore[f] && !unknown[f] {
				unknown[f] = true
				w := Warning{Account: account, Row: -1, Field: f, Message: "unrecognized field dropped"}
				res.Warnings = append(res.Warnings, w)
				logger.Warn("unrecognized field dropped", "account", account, "field", f)
			}
			continue
		}

		num, present, err := parseNumber(row[f])
		switch {
		case errors.Is(err, errNegative):
			warn(f, "negative value treated as absent")
			continue
		case err != nil:
			warn(f, fmt.Sprintf("unparseable value %v treated as absent", row[f]))
			continue
		case !present:
			continue
		}

		if scale, ok := units[canonical]; ok {
			num *= scale
		}
		if rec.Values.Get(canonical).Present() {
			warn(f, "duplicate source for "+canonical+", keeping first")
			continue
		}
		rec.Values[canonical] = metrics.Of(num)
	}

	for _, b := range n.opts.Backfill {
		if rec.Values.Get(b.Target).Present() {
			continue
		}
		num, ok := rec.Values.Get(b.Numerator).Float()
		if !ok {
			continue
		}
		rate, present, err := parseNumber(row[normalizeField(b.RateField)])
		if err != nil || !present {
			continue
		}
		if scale, ok := units[b.RateField]; ok {
			rate *= scale
		}
		if rate > 0 {
			rec.Values[b.Target] = metrics.Of(num / rate)
		}
	}

	return rec, nil
}
