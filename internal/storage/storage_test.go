package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/campaign-pulse/internal/config"
	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/datanorm"
	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	april    = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	mayFirst = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
)

func testSnapshot(id string, takenAt, from, to time.Time) *Snapshot {
	return &Snapshot{
		ID:      id,
		TakenAt: takenAt,
		From:    from,
		To:      to,
		Batches: []datanorm.RawBatch{
			{Account: "sg", Rows: []datanorm.RawRow{{"campaign_id": "A1", "sends": 100}}},
			{Account: "au", Rows: []datanorm.RawRow{{"campaign_id": "B1", "sends": 200}, {"campaign_id": "B2", "sends": 10}}},
		},
		Failures: []consolidate.AccountFailure{{Account: "tw", Stage: consolidate.StageFetch, Reason: "status 500"}},
	}
}

func newTestStorage(t *testing.T) Store {
	s, err := New(context.Background(), config.StorageConfig{Type: "local", LocalPath: t.TempDir()}, nil)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	s := newTestStorage(t)
	assert.IsType(t, &LocalStore{}, s)

	_, err := New(context.Background(), config.StorageConfig{Type: "gsheets"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), config.StorageConfig{Type: "postgres"}, nil)
	assert.Error(t, err)
}

func TestSnapshotMeta(t *testing.T) {
	snap := testSnapshot("s1", mayFirst, april, mayFirst)
	m := snap.Meta()
	assert.Equal(t, []string{"au", "sg"}, m.Accounts)
	assert.Equal(t, 3, m.Rows)

	assert.True(t, m.Covers(april.AddDate(0, 0, 3), mayFirst))
	assert.False(t, m.Covers(april.AddDate(0, 0, -1), mayFirst))

	in := snap.Input()
	assert.Len(t, in.Batches, 2)
	assert.Equal(t, "tw", in.FetchFailures[0].Account)
}

func TestLocalSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	older := testSnapshot("older", april.AddDate(0, 0, 20), april, april.AddDate(0, 0, 20))
	newer := testSnapshot("newer", mayFirst, april, mayFirst)
	require.NoError(t, s.SaveSnapshot(ctx, older))
	require.NoError(t, s.SaveSnapshot(ctx, newer))
	assert.Error(t, s.SaveSnapshot(ctx, newer), "snapshots are immutable")

	got, err := s.LatestSnapshot(ctx, april, april.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, "newer", got.ID)
	assert.Len(t, got.Batches, 2)

	_, err = s.LatestSnapshot(ctx, april, mayFirst.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "newer", list[0].ID)
}

func TestLocalStoreReloads(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(ctx, testSnapshot("s1", mayFirst, april, mayFirst)))
	require.NoError(t, s.SaveAssignments(ctx, []grouping.Assignment{{CampaignID: "A1", Group: "Launch"}}))

	reopened, err := NewLocalStore(dir)
	require.NoError(t, err)
	list, err := reopened.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assignments, err := reopened.ListAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "Launch", assignments[0].Group)
	assert.False(t, assignments[0].UpdatedAt.IsZero())
}

func TestLocalAssignments(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.SaveAssignments(ctx, []grouping.Assignment{
		{CampaignID: "B1", Group: "Promo"},
		{CampaignID: "A1", Group: "Launch"},
	}))
	require.NoError(t, s.SaveAssignments(ctx, []grouping.Assignment{{CampaignID: "B1", Group: "Newsletter"}}))

	list, err := s.ListAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A1", list[0].CampaignID)
	assert.Equal(t, "Newsletter", list[1].Group)

	assert.Error(t, s.SaveAssignments(ctx, []grouping.Assignment{{CampaignID: "C1"}}))

	require.NoError(t, s.DeleteAssignment(ctx, "A1"))
	assert.ErrorIs(t, s.DeleteAssignment(ctx, "A1"), ErrNotFound)
}
