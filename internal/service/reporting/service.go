package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-pulse/internal/aggregate"
	"github.com/ignite/campaign-pulse/internal/config"
	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/ignite/campaign-pulse/internal/klaviyo"
	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
	"github.com/ignite/campaign-pulse/internal/storage"
)

// Options is the read-only configuration of a Service.
type Options struct {
	Accounts           []klaviyo.Account
	Rules              []grouping.Rule
	AssignmentPriority int
	Benchmarks         map[string]float64
	DefaultGrouping    aggregate.Grouping
	// Lookback is the live-fetch window when a request names no start.
	Lookback    time.Duration
	MaxParallel int
}

// Service coordinates stores, the fetcher and the builder. It is safe for
// concurrent use.
type Service struct {
	builder     *consolidate.Builder
	snapshots   storage.SnapshotStore
	assignments storage.AssignmentStore
	fetcher     Fetcher
	cache       *storage.ResultCache
	assistant   Assistant
	opts        Options
	now         func() time.Time
}

// NewService creates a reporting service. The fetcher, cache and assistant
// are optional and set afterwards.
func NewService(builder *consolidate.Builder, snapshots storage.SnapshotStore, assignments storage.AssignmentStore, opts Options) *Service {
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * 24 * time.Hour
	}
	return &Service{
		builder:     builder,
		snapshots:   snapshots,
		assignments: assignments,
		opts:        opts,
		now:         time.Now,
	}
}

// SetFetcher enables live fetches.
func (s *Service) SetFetcher(f Fetcher) { s.fetcher = f }

// SetCache enables result caching.
func (s *Service) SetCache(c *storage.ResultCache) { s.cache = c }

// SetAssistant enables Ask.
func (s *Service) SetAssistant(a Assistant) { s.assistant = a }

// Calculator returns the derived metric calculator tables are built with.
func (s *Service) Calculator() *metrics.Calculator { return s.builder.Calculator() }

// ReportRequest is a consolidation request as received from callers.
type ReportRequest struct {
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	Dimensions       []string  `json:"dimensions"`
	Granularity      string    `json:"granularity"`
	SeparateAccounts bool      `json:"separate_accounts"`
	RollingWindow    int       `json:"rolling_window"`
	// SnapshotID rebuilds from one stored snapshot.
	SnapshotID string `json:"snapshot_id"`
	// Live skips stored snapshots and the cache.
	Live bool `json:"live"`
}

func (r ReportRequest) hasWindow() bool {
	return !r.From.IsZero() || !r.To.IsZero()
}

func (s *Service) buildRequest(req ReportRequest) (consolidate.Request, error) {
	g := s.opts.DefaultGrouping
	if len(req.Dimensions) > 0 {
		parsed, err := config.ParseGrouping(req.Dimensions, req.Granularity)
		if err != nil {
			return consolidate.Request{}, err
		}
		g = parsed
	} else if req.Granularity != "" {
		gran, err := aggregate.ParseGranularity(req.Granularity)
		if err != nil {
			return consolidate.Request{}, err
		}
		g = aggregate.Grouping{Dimensions: g.Dimensions, Granularity: gran}
	}
	return consolidate.Request{
		Grouping:         g,
		SeparateAccounts: req.SeparateAccounts,
		RollingWindow:    req.RollingWindow,
		From:             req.From,
		To:               req.To,
	}, nil
}

// window fills a missing bound: To defaults to now, From to To minus the
// lookback.
func (s *Service) window(req ReportRequest) (time.Time, time.Time) {
	to := req.To
	if to.IsZero() {
		to = s.now().UTC()
	}
	from := req.From
	if from.IsZero() {
		from = to.Add(-s.opts.Lookback)
	}
	return from, to
}

// Consolidate returns the table for req. A partially failed build is
// returned with a nil error; callers read table.Partial.
func (s *Service) Consolidate(ctx context.Context, req ReportRequest) (*consolidate.Table, error) {
	breq, err := s.buildRequest(req)
	if err != nil {
		return nil, err
	}

	snap, err := s.pickSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}

	key, err := storage.Key("consolidate", snap.ID, breq)
	if err != nil {
		return nil, err
	}
	if !req.Live {
		var cached consolidate.Table
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			logger.Warn("result cache read failed", "error", err)
		}
		if hit {
			cached.InLocation(s.builder.Location())
			logger.Debug("result cache hit", "snapshot", snap.ID, "run_id", cached.RunID)
			return &cached, nil
		}
	}

	full, err := snap.load(ctx, s.snapshots)
	if err != nil {
		return nil, err
	}
	resolver, err := s.resolver(ctx)
	if err != nil {
		return nil, err
	}
	table, err := s.builder.WithResolver(resolver).Build(ctx, full.Input(), breq)
	if err != nil {
		return nil, err
	}

	if pf := table.Err(); pf != nil {
		logger.Warn("consolidated with excluded accounts", "run_id", table.RunID, "error", pf)
	}
	logger.Info("table built",
		"run_id", table.RunID,
		"snapshot", snap.ID,
		"rows", len(table.Rows),
		"accounts", len(table.Accounts),
		"dropped", table.Dropped,
	)

	if err := s.cache.Set(ctx, key, table); err != nil {
		logger.Warn("result cache write failed", "error", err)
	}
	return table, nil
}

// snapshotRef is a chosen snapshot, loaded lazily so a cache hit never
// reads the payload.
type snapshotRef struct {
	ID   string
	snap *storage.Snapshot
}

func (r snapshotRef) load(ctx context.Context, store storage.SnapshotStore) (*storage.Snapshot, error) {
	if r.snap != nil {
		return r.snap, nil
	}
	snap, err := store.GetSnapshot(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", r.ID, err)
	}
	return snap, nil
}

// pickSnapshot chooses the input: a named snapshot, the newest snapshot
// covering an explicit window, the newest snapshot at all, or a live fetch
// when nothing stored fits.
func (s *Service) pickSnapshot(ctx context.Context, req ReportRequest) (snapshotRef, error) {
	switch {
	case req.Live:
		return s.fetchLive(ctx, req)
	case req.SnapshotID != "":
		return snapshotRef{ID: req.SnapshotID}, nil
	case req.hasWindow():
		from, to := s.window(req)
		snap, err := s.snapshots.LatestSnapshot(ctx, from, to)
		if err == nil {
			return snapshotRef{ID: snap.ID, snap: snap}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return snapshotRef{}, err
		}
	default:
		metas, err := s.snapshots.ListSnapshots(ctx, 1)
		if err != nil {
			return snapshotRef{}, err
		}
		if len(metas) > 0 {
			return snapshotRef{ID: metas[0].ID}, nil
		}
	}

	if s.fetcher == nil {
		return snapshotRef{}, ErrNoData
	}
	return s.fetchLive(ctx, req)
}

func (s *Service) fetchLive(ctx context.Context, req ReportRequest) (snapshotRef, error) {
	if s.fetcher == nil {
		return snapshotRef{}, ErrNoFetcher
	}
	from, to := s.window(req)
	snap, err := s.fetchSnapshot(ctx, from, to)
	if err != nil {
		return snapshotRef{}, err
	}
	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		logger.Error("failed to store snapshot", "snapshot", snap.ID, "error", err)
	}
	return snapshotRef{ID: snap.ID, snap: snap}, nil
}

// fetchSnapshot fetches every account for [from, to]. Accounts that fail
// are recorded on the snapshot, not returned as an error.
func (s *Service) fetchSnapshot(ctx context.Context, from, to time.Time) (*storage.Snapshot, error) {
	in, err := s.fetcher.FetchAll(ctx, s.opts.Accounts, klaviyo.Timeframe{Start: from, End: to}, s.opts.MaxParallel)
	if err != nil {
		return nil, fmt.Errorf("fetching accounts: %w", err)
	}
	return &storage.Snapshot{
		ID:       uuid.NewString(),
		TakenAt:  s.now().UTC(),
		From:     from,
		To:       to,
		Batches:  in.Batches,
		Failures: in.FetchFailures,
	}, nil
}

// RefreshSnapshot fetches the trailing lookback window and stores it. The
// worker calls it on a schedule.
func (s *Service) RefreshSnapshot(ctx context.Context, lookback time.Duration) (storage.SnapshotMeta, error) {
	if s.fetcher == nil {
		return storage.SnapshotMeta{}, ErrNoFetcher
	}
	if lookback <= 0 {
		lookback = s.opts.Lookback
	}
	to := s.now().UTC()
	snap, err := s.fetchSnapshot(ctx, to.Add(-lookback), to)
	if err != nil {
		return storage.SnapshotMeta{}, err
	}
	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return storage.SnapshotMeta{}, fmt.Errorf("storing snapshot: %w", err)
	}
	meta := snap.Meta()
	logger.Info("snapshot stored", "snapshot", meta.ID, "accounts", len(meta.Accounts), "rows", meta.Rows, "failures", len(snap.Failures))
	return meta, nil
}

// Snapshots lists stored snapshots newest first.
func (s *Service) Snapshots(ctx context.Context, limit int) ([]storage.SnapshotMeta, error) {
	return s.snapshots.ListSnapshots(ctx, limit)
}

func (s *Service) resolver(ctx context.Context) (*grouping.Resolver, error) {
	saved, err := s.assignments.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading group assignments: %w", err)
	}
	rules := grouping.Merge(grouping.RulesFromAssignments(saved, s.opts.AssignmentPriority), s.opts.Rules)
	return grouping.NewResolver(rules)
}
