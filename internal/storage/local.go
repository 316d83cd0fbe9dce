package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
)

// LocalStore keeps snapshots as JSON files and assignments in one JSON
// document under a directory. Meant for a single process.
type LocalStore struct {
	dir string
	mu  sync.RWMutex

	index       []SnapshotMeta
	assignments map[string]grouping.Assignment
}

// NewLocalStore loads the index and assignments found in dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	s := &LocalStore{dir: dir, assignments: make(map[string]grouping.Assignment)}
	if err := os.MkdirAll(filepath.Join(dir, "snapshots"), 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	if err := s.loadFromDisk(); err != nil {
		// Not fatal - just log and continue
		logger.Warn("could not load existing data", "dir", dir, "error", err)
	}
	return s, nil
}

func (s *LocalStore) snapshotPath(id string) string {
	return filepath.Join(s.dir, "snapshots", id+".json")
}

func (s *LocalStore) loadFromDisk() error {
	entries, err := os.ReadDir(filepath.Join(s.dir, "snapshots"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		snap, err := s.readSnapshot(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			logger.Warn("skipping unreadable snapshot", "file", e.Name(), "error", err)
			continue
		}
		s.index = append(s.index, snap.Meta())
	}
	sortMetas(s.index)

	data, err := os.ReadFile(filepath.Join(s.dir, "assignments.json"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var list []grouping.Assignment
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parsing assignments: %w", err)
	}
	for _, a := range list {
		s.assignments[a.CampaignID] = a
	}
	return nil
}

func (s *LocalStore) readSnapshot(id string) (*Snapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// writeFile writes through a temp file so readers never see half a file.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveSnapshot writes a new snapshot. Existing ids are never overwritten.
func (s *LocalStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.snapshotPath(snap.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot %s already exists", snap.ID)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	s.index = append(s.index, snap.Meta())
	sortMetas(s.index)
	return nil
}

// GetSnapshot reads one snapshot by id.
func (s *LocalStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readSnapshot(id)
}

// LatestSnapshot returns the newest snapshot covering [from, to].
func (s *LocalStore) LatestSnapshot(ctx context.Context, from, to time.Time) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.index {
		if m.Covers(from, to) {
			return s.readSnapshot(m.ID)
		}
	}
	return nil, ErrNotFound
}

// ListSnapshots lists snapshots newest first.
func (s *LocalStore) ListSnapshots(ctx context.Context, limit int) ([]SnapshotMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.index)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]SnapshotMeta, n)
	copy(out, s.index[:n])
	return out, nil
}

// ListAssignments returns every saved assignment ordered by campaign id.
func (s *LocalStore) ListAssignments(ctx context.Context) ([]grouping.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]grouping.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sortAssignments(out)
	return out, nil
}

// SaveAssignments upserts assignments by campaign id.
func (s *LocalStore) SaveAssignments(ctx context.Context, assignments []grouping.Assignment) error {
	if err := validateAssignments(assignments); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, a := range assignments {
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
		s.assignments[a.CampaignID] = a
	}
	return s.persistAssignments()
}

// DeleteAssignment removes one assignment. Missing ids give ErrNotFound.
func (s *LocalStore) DeleteAssignment(ctx context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[campaignID]; !ok {
		return ErrNotFound
	}
	delete(s.assignments, campaignID)
	return s.persistAssignments()
}

func (s *LocalStore) persistAssignments() error {
	list := make([]grouping.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		list = append(list, a)
	}
	sortAssignments(list)
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling assignments: %w", err)
	}
	return writeFile(filepath.Join(s.dir, "assignments.json"), data)
}

func sortMetas(m []SnapshotMeta) {
	sort.SliceStable(m, func(i, j int) bool { return m[i].TakenAt.After(m[j].TakenAt) })
}
