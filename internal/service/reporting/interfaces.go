package reporting

import (
	"context"

	"github.com/ignite/campaign-pulse/internal/agent"
	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/klaviyo"
)

// Fetcher pulls raw batches for every account. *klaviyo.Client satisfies it.
type Fetcher interface {
	FetchAll(ctx context.Context, accounts []klaviyo.Account, tf klaviyo.Timeframe, maxParallel int) (consolidate.Input, error)
}

// Assistant answers questions over a table. *agent.BedrockAssistant
// satisfies it.
type Assistant interface {
	Ask(ctx context.Context, in agent.AskInput) (*agent.Answer, error)
}
