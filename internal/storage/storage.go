// Package storage persists raw account snapshots and saved group
// assignments, and caches built tables in Redis.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ignite/campaign-pulse/internal/config"
	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/datanorm"
	"github.com/ignite/campaign-pulse/internal/grouping"
)

// ErrNotFound is returned when no stored item matches.
var ErrNotFound = errors.New("storage: not found")

// Snapshot is an immutable record of one fetch across accounts. Any
// snapshot can be rebuilt into a table again.
type Snapshot struct {
	ID       string                       `json:"id"`
	TakenAt  time.Time                    `json:"taken_at"`
	From     time.Time                    `json:"from"`
	To       time.Time                    `json:"to"`
	Batches  []datanorm.RawBatch          `json:"batches"`
	Failures []consolidate.AccountFailure `json:"failures,omitempty"`
}

// Meta summarizes the snapshot without its rows.
func (s *Snapshot) Meta() SnapshotMeta {
	accounts := make([]string, 0, len(s.Batches))
	rows := 0
	for _, b := range s.Batches {
		accounts = append(accounts, b.Account)
		rows += len(b.Rows)
	}
	sort.Strings(accounts)
	return SnapshotMeta{ID: s.ID, TakenAt: s.TakenAt, From: s.From, To: s.To, Accounts: accounts, Rows: rows}
}

// Input returns the snapshot as builder input.
func (s *Snapshot) Input() consolidate.Input {
	return consolidate.Input{Batches: s.Batches, FetchFailures: s.Failures}
}

// SnapshotMeta is the listing view of a snapshot.
type SnapshotMeta struct {
	ID       string    `json:"id"`
	TakenAt  time.Time `json:"taken_at"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Accounts []string  `json:"accounts"`
	Rows     int       `json:"rows"`
}

// Covers reports whether the snapshot window contains [from, to].
func (m SnapshotMeta) Covers(from, to time.Time) bool {
	return !m.From.After(from) && !m.To.Before(to)
}

// SnapshotStore is an append-only store of snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	// LatestSnapshot returns the newest snapshot whose window covers
	// [from, to], or ErrNotFound.
	LatestSnapshot(ctx context.Context, from, to time.Time) (*Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]SnapshotMeta, error)
}

// AssignmentStore holds user-saved campaign to group assignments.
type AssignmentStore interface {
	ListAssignments(ctx context.Context) ([]grouping.Assignment, error)
	SaveAssignments(ctx context.Context, assignments []grouping.Assignment) error
	DeleteAssignment(ctx context.Context, campaignID string) error
}

// Store bundles both stores of one backend.
type Store interface {
	SnapshotStore
	AssignmentStore
}

// New creates the Store selected by cfg.Type. db may be nil unless the
// type is postgres.
func New(ctx context.Context, cfg config.StorageConfig, db *sql.DB) (Store, error) {
	switch cfg.Type {
	case "aws":
		s, err := NewAWSStorage(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage: %w", err)
		}
		return s, nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres storage needs a database connection")
		}
		s := NewPostgresStore(db)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating postgres storage: %w", err)
		}
		return s, nil
	case "local", "":
		if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		return NewLocalStore(cfg.LocalPath)
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

func validateAssignments(assignments []grouping.Assignment) error {
	for _, a := range assignments {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("assignment %q: %w", a.CampaignID, err)
		}
	}
	return nil
}

func sortAssignments(out []grouping.Assignment) {
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
}
