package reporting

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
	"github.com/ignite/campaign-pulse/internal/storage"
)

// GroupsView is the saved assignments plus the configured rules they sit in
// front of.
type GroupsView struct {
	Assignments []grouping.Assignment `json:"assignments"`
	Rules       []grouping.Rule       `json:"rules"`
}

// GroupsUpdate saves assignments and removes others by campaign id.
type GroupsUpdate struct {
	Assignments []grouping.Assignment `json:"assignments"`
	Remove      []string              `json:"remove"`
}

// Groups returns the current grouping configuration.
func (s *Service) Groups(ctx context.Context) (*GroupsView, error) {
	saved, err := s.assignments.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		saved = []grouping.Assignment{}
	}
	return &GroupsView{Assignments: saved, Rules: s.opts.Rules}, nil
}

// SaveGroups applies an update and drops every cached table, since any of
// them may carry stale labels.
func (s *Service) SaveGroups(ctx context.Context, u GroupsUpdate) (*GroupsView, error) {
	for _, a := range u.Assignments {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAssignment, a.CampaignID, err)
		}
	}

	if len(u.Assignments) > 0 {
		if err := s.assignments.SaveAssignments(ctx, u.Assignments); err != nil {
			return nil, fmt.Errorf("saving assignments: %w", err)
		}
	}
	for _, id := range u.Remove {
		err := s.assignments.DeleteAssignment(ctx, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("removing assignment %s: %w", id, err)
		}
	}

	n, err := s.cache.Invalidate(ctx)
	if err != nil {
		logger.Warn("result cache invalidation failed", "error", err)
	}
	logger.Info("group assignments updated", "saved", len(u.Assignments), "removed", len(u.Remove), "cache_dropped", n)
	return s.Groups(ctx)
}
