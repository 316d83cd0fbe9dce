// Package consolidate builds the cross-account view: one task per account
// batch, then a merge that re-derives ratios from summed base metrics.
package consolidate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-pulse/internal/aggregate"
	"github.com/ignite/campaign-pulse/internal/datanorm"
	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
)

// Options tune a Builder.
type Options struct {
	// MaxParallel bounds concurrent account tasks. Zero means 8.
	MaxParallel int
}

// Builder wires the pipeline stages. It only holds read-only configuration
// and may serve concurrent Build calls.
type Builder struct {
	normalizer *datanorm.Normalizer
	resolver   *grouping.Resolver
	calc       *metrics.Calculator
	opts       Options
}

// NewBuilder checks that every derived spec resolves against the metrics
// the normalizer can produce.
func NewBuilder(n *datanorm.Normalizer, r *grouping.Resolver, calc *metrics.Calculator, opts Options) (*Builder, error) {
	if n == nil {
		return nil, ErrNoNormalizer
	}
	if err := calc.ValidateAgainst(n.BaseMetrics()); err != nil {
		return nil, err
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 8
	}
	return &Builder{normalizer: n, resolver: r, calc: calc, opts: opts}, nil
}

// WithResolver returns a Builder that labels campaigns with r.
func (b *Builder) WithResolver(r *grouping.Resolver) *Builder {
	cp := *b
	cp.resolver = r
	return &cp
}

// Calculator exposes the derived metric calculator for renderers.
func (b *Builder) Calculator() *metrics.Calculator { return b.calc }

// Location is the reference timezone time buckets are cut in.
func (b *Builder) Location() *time.Location { return b.normalizer.ReferenceLocation() }

// Request describes the view the caller wants.
type Request struct {
	Grouping aggregate.Grouping `json:"grouping"`
	// SeparateAccounts keeps one row per account instead of merging.
	SeparateAccounts bool `json:"separate_accounts"`
	// RollingWindow > 0 turns bucketed rows into trailing-window sums.
	RollingWindow int `json:"rolling_window,omitempty"`
	// From and To keep records timestamped in [From, To]. Zero is unbounded.
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r Request) inWindow(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Input is one snapshot's worth of batches. FetchFailures are accounts that
// never produced a batch.
type Input struct {
	Batches       []datanorm.RawBatch
	FetchFailures []AccountFailure
}

type accountResult struct {
	account  string
	rows     []aggregate.Row
	dropped  int
	warnings []string
	failure  *AccountFailure
}

// Build runs normalize, label and aggregate per account concurrently, then
// merges. A failing account is excluded and reported through Table.Err;
// configuration errors and context cancellation abort the build.
func (b *Builder) Build(ctx context.Context, in Input, req Request) (*Table, error) {
	if err := req.Grouping.Validate(); err != nil {
		return nil, err
	}
	if req.Grouping.Granularity == "" {
		req.Grouping.Granularity = aggregate.GranularityNone
	}
	if req.RollingWindow < 0 {
		return nil, metrics.NewConfigError("consolidate", "rolling_window", "must not be negative")
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		return nil, metrics.NewConfigError("consolidate", "timeframe", "to is before from")
	}

	start := time.Now()
	perAccount := req.Grouping.With(aggregate.DimAccount)
	results := make([]accountResult, len(in.Batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxParallel)
	for i, batch := range in.Batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = b.buildAccount(batch, perAccount, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failures := append([]AccountFailure(nil), in.FetchFailures...)
	var (
		rows     []aggregate.Row
		accounts []string
		warnings []string
		dropped  int
	)
	for _, res := range results {
		if res.failure != nil {
			failures = append(failures, *res.failure)
			continue
		}
		accounts = append(accounts, res.account)
		rows = append(rows, res.rows...)
		warnings = append(warnings, res.warnings...)
		dropped += res.dropped
	}
	sort.Strings(accounts)
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Account < failures[j].Account })

	final := req.Grouping
	if req.SeparateAccounts {
		final = perAccount
	}
	merged, err := aggregate.Reaggregate(rows, final, b.calc)
	if err != nil {
		return nil, err
	}
	if req.RollingWindow > 0 {
		merged, err = aggregate.Rolling(merged, final, req.RollingWindow, b.calc)
		if err != nil {
			return nil, err
		}
	}

	table := &Table{
		RunID:            uuid.NewString(),
		GeneratedAt:      time.Now().UTC(),
		Grouping:         final,
		SeparateAccounts: final.Has(aggregate.DimAccount),
		RollingWindow:    req.RollingWindow,
		BaseColumns:      aggregate.BaseNames(merged),
		DerivedColumns:   b.calc.Names(),
		Rows:             merged,
		Accounts:         accounts,
		Failures:         failures,
		Dropped:          dropped,
		Warnings:         warnings,
		Partial:          len(failures) > 0,
	}

	logger.Info("consolidated view built",
		"run_id", table.RunID,
		"accounts", len(accounts),
		"failed", len(failures),
		"rows", len(merged),
		"dropped", dropped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return table, nil
}

func (b *Builder) buildAccount(batch datanorm.RawBatch, g aggregate.Grouping, req Request) (res accountResult) {
	res.account = batch.Account
	if res.account == "" {
		res.account = "(unnamed)"
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("account task panicked", "account", res.account, "panic", r)
			res = accountResult{account: res.account, failure: &AccountFailure{Account: res.account, Stage: StageAggregate, Reason: fmt.Sprint(r)}}
		}
	}()

	norm, err := b.normalizer.Normalize(batch)
	if err != nil {
		logger.Warn("account excluded", "account", res.account, "error", err)
		res.failure = &AccountFailure{Account: res.account, Stage: StageNormalize, Reason: err.Error()}
		return res
	}

	records := norm.Records
	if !req.From.IsZero() || !req.To.IsZero() {
		records = records[:0:0]
		for _, rec := range norm.Records {
			if req.inWindow(rec.Timestamp) {
				records = append(records, rec)
			}
		}
	}

	labeled := b.resolver.Label(records)
	rows, err := aggregate.Aggregate(labeled, g, b.calc)
	if err != nil {
		res.failure = &AccountFailure{Account: res.account, Stage: StageAggregate, Reason: err.Error()}
		return res
	}

	res.rows = rows
	res.dropped = len(norm.Dropped)
	for _, d := range norm.Dropped {
		res.warnings = append(res.warnings, d.Error())
	}
	for _, w := range norm.Warnings {
		res.warnings = append(res.warnings, w.String())
	}
	return res
}
