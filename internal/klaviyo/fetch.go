package klaviyo

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/datanorm"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
)

// Report fields dropped after the join.
var droppedFields = []string{"campaign_message_id", "archived"}

// FetchBatch pulls the report and the campaign list for one account
// concurrently and inner-joins them on campaign_id. Report rows for
// campaigns missing from the list are dropped, as are campaigns without
// report rows. Every row is stamped with the account name.
func (c *Client) FetchBatch(ctx context.Context, acct Account, tf Timeframe) (datanorm.RawBatch, error) {
	var (
		report    []ReportRow
		campaigns []Campaign
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		campaigns, err = c.GetEmailCampaigns(gctx, acct, tf.Start)
		return err
	})
	g.Go(func() error {
		var err error
		report, err = c.GetCampaignValuesReport(gctx, acct, tf)
		return err
	})
	if err := g.Wait(); err != nil {
		return datanorm.RawBatch{}, err
	}

	batch := datanorm.RawBatch{Account: acct.Name, Timezone: acct.Timezone, FetchedAt: time.Now().UTC()}
	batch.Rows = Join(acct.Name, campaigns, report)
	logger.Info("klaviyo batch fetched",
		"account", acct.Name,
		"campaigns", len(campaigns),
		"report_rows", len(report),
		"joined", len(batch.Rows),
	)
	return batch, nil
}

// Join inner-joins report rows with campaigns on campaign_id.
func Join(account string, campaigns []Campaign, report []ReportRow) []datanorm.RawRow {
	byID := make(map[string]Campaign, len(campaigns))
	for _, c := range campaigns {
		byID[c.ID] = c
	}

	rows := make([]datanorm.RawRow, 0, len(report))
	for _, r := range report {
		id, _ := r["campaign_id"].(string)
		c, ok := byID[id]
		if !ok {
			continue
		}
		row := make(datanorm.RawRow, len(r)+6)
		for k, v := range r {
			row[k] = v
		}
		row["type"] = c.Type
		row["campaign_id"] = c.ID
		row["name"] = c.Name
		row["status"] = c.Status
		row["send_time"] = nullable(c.SendTime)
		row["scheduled_at"] = nullable(c.ScheduledAt)
		for _, f := range droppedFields {
			delete(row, f)
		}
		row["account"] = account
		rows = append(rows, row)
	}
	return rows
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// FetchAll pulls every account concurrently. An account whose fetch fails
// is reported as a fetch failure; the others still come back. Only context
// cancellation fails the call.
func (c *Client) FetchAll(ctx context.Context, accounts []Account, tf Timeframe, maxParallel int) (consolidate.Input, error) {
	if maxParallel <= 0 {
		maxParallel = len(accounts)
	}
	batches := make([]*datanorm.RawBatch, len(accounts))
	failures := make([]*consolidate.AccountFailure, len(accounts))

	var g errgroup.Group
	g.SetLimit(max(maxParallel, 1))
	for i, acct := range accounts {
		g.Go(func() error {
			batch, err := c.FetchBatch(ctx, acct, tf)
			if err != nil {
				logger.Warn("klaviyo fetch failed", "account", acct.Name, "error", err)
				failures[i] = &consolidate.AccountFailure{Account: acct.Name, Stage: consolidate.StageFetch, Reason: err.Error()}
				return nil
			}
			batches[i] = &batch
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return consolidate.Input{}, err
	}

	var in consolidate.Input
	for i := range accounts {
		if batches[i] != nil {
			in.Batches = append(in.Batches, *batches[i])
		}
		if failures[i] != nil {
			in.FetchFailures = append(in.FetchFailures, *failures[i])
		}
	}
	sort.Slice(in.Batches, func(i, j int) bool { return in.Batches[i].Account < in.Batches[j].Account })
	return in, nil
}

// IsUnauthorized reports whether err is a 401 or 403 from Klaviyo.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}
