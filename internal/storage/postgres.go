package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS pulse_snapshots (
	id          TEXT PRIMARY KEY,
	taken_at    TIMESTAMPTZ NOT NULL,
	window_from TIMESTAMPTZ NOT NULL,
	window_to   TIMESTAMPTZ NOT NULL,
	accounts    TEXT[] NOT NULL DEFAULT '{}',
	row_count   INTEGER NOT NULL DEFAULT 0,
	payload     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS pulse_snapshots_taken_at_idx ON pulse_snapshots (taken_at DESC);

CREATE TABLE IF NOT EXISTS pulse_group_assignments (
	campaign_id TEXT PRIMARY KEY,
	group_label TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// PostgresStore stores snapshots and assignments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// SaveSnapshot inserts a new snapshot row.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	m := snap.Meta()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pulse_snapshots (id, taken_at, window_from, window_to, accounts, row_count, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.TakenAt, m.From, m.To, pq.Array(m.Accounts), m.Rows, payload)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot payload: %w", err)
	}
	return &snap, nil
}

// GetSnapshot reads one snapshot by id.
func (s *PostgresStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	return s.scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT payload FROM pulse_snapshots WHERE id = $1`, id))
}

// LatestSnapshot returns the newest snapshot covering [from, to].
func (s *PostgresStore) LatestSnapshot(ctx context.Context, from, to time.Time) (*Snapshot, error) {
	return s.scanSnapshot(s.db.QueryRowContext(ctx, `
		SELECT payload FROM pulse_snapshots
		WHERE window_from <= $1 AND window_to >= $2
		ORDER BY taken_at DESC
		LIMIT 1`, from, to))
}

// ListSnapshots lists snapshots newest first. limit <= 0 lists all.
func (s *PostgresStore) ListSnapshots(ctx context.Context, limit int) ([]SnapshotMeta, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, taken_at, window_from, window_to, accounts, row_count
		FROM pulse_snapshots
		ORDER BY taken_at DESC
		LIMIT $1`, lim)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotMeta
	for rows.Next() {
		var m SnapshotMeta
		if err := rows.Scan(&m.ID, &m.TakenAt, &m.From, &m.To, pq.Array(&m.Accounts), &m.Rows); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListAssignments returns every saved assignment ordered by campaign id.
func (s *PostgresStore) ListAssignments(ctx context.Context) ([]grouping.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT campaign_id, group_label, updated_at
		FROM pulse_group_assignments
		ORDER BY campaign_id`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []grouping.Assignment
	for rows.Next() {
		var a grouping.Assignment
		if err := rows.Scan(&a.CampaignID, &a.Group, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAssignments upserts all assignments in one transaction.
func (s *PostgresStore) SaveAssignments(ctx context.Context, assignments []grouping.Assignment) error {
	if err := validateAssignments(assignments); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, a := range assignments {
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pulse_group_assignments (campaign_id, group_label, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (campaign_id) DO UPDATE SET
				group_label = EXCLUDED.group_label,
				updated_at = EXCLUDED.updated_at`,
			a.CampaignID, a.Group, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert assignment %s: %w", a.CampaignID, err)
		}
	}
	return tx.Commit()
}

// DeleteAssignment removes one assignment. Missing ids give ErrNotFound.
func (s *PostgresStore) DeleteAssignment(ctx context.Context, campaignID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pulse_group_assignments WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
