package reporting

import (
	"context"

	"github.com/ignite/campaign-pulse/internal/agent"
	"github.com/ignite/campaign-pulse/internal/consolidate"
)

// AskRequest is a question about the table a ReportRequest produces.
type AskRequest struct {
	ReportRequest
	Question string          `json:"question"`
	History  []agent.Message `json:"history"`
}

// AskResult is the assistant answer and the table it was given.
type AskResult struct {
	*agent.Answer
	RunID   string `json:"run_id"`
	Partial bool   `json:"partial"`
}

// Ask builds the table and hands it, with its scorecards, to the assistant.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	if s.assistant == nil {
		return nil, ErrAssistantOff
	}
	table, err := s.Consolidate(ctx, req.ReportRequest)
	if err != nil {
		return nil, err
	}
	calc := s.Calculator()
	cards, err := consolidate.Scorecards(table, nil, calc, s.opts.Benchmarks)
	if err != nil {
		return nil, err
	}

	ans, err := s.assistant.Ask(ctx, agent.AskInput{
		Question:   req.Question,
		History:    req.History,
		Table:      table,
		Calc:       calc,
		Scorecards: cards,
	})
	if err != nil {
		return nil, err
	}
	return &AskResult{Answer: ans, RunID: table.RunID, Partial: table.Partial}, nil
}
