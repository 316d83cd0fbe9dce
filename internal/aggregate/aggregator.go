// Package aggregate sums base metrics under a grouping key and recomputes
// derived metrics from the sums.
package aggregate

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/campaign-pulse/internal/metrics"
)

// Key identifies an aggregated row. Only the selected dimensions are set.
type Key struct {
	Account      string
	Group        string
	CampaignType metrics.CampaignType
	CampaignID   string
	Channel      string
	Status       string
	Bucket       time.Time
}

// MarshalJSON omits unselected dimensions and a zero bucket.
func (k Key) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 7)
	if k.Account != "" {
		out["account"] = k.Account
	}
	if k.Group != "" {
		out["group"] = k.Group
	}
	if k.CampaignType != "" {
		out["campaign_type"] = k.CampaignType
	}
	if k.CampaignID != "" {
		out["campaign_id"] = k.CampaignID
	}
	if k.Channel != "" {
		out["channel"] = k.Channel
	}
	if k.Status != "" {
		out["status"] = k.Status
	}
	if !k.Bucket.IsZero() {
		out["bucket"] = k.Bucket.Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (k *Key) UnmarshalJSON(data []byte) error {
	var in struct {
		Account      string               `json:"account"`
		Group        string               `json:"group"`
		CampaignType metrics.CampaignType `json:"campaign_type"`
		CampaignID   string               `json:"campaign_id"`
		Channel      string               `json:"channel"`
		Status       string               `json:"status"`
		Bucket       string               `json:"bucket"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*k = Key{
		Account:      in.Account,
		Group:        in.Group,
		CampaignType: in.CampaignType,
		CampaignID:   in.CampaignID,
		Channel:      in.Channel,
		Status:       in.Status,
	}
	if in.Bucket != "" {
		b, err := time.Parse(time.RFC3339, in.Bucket)
		if err != nil {
			return fmt.Errorf("key bucket: %w", err)
		}
		// Keep the offset: buckets start at midnight in the reference zone.
		k.Bucket = b
	}
	return nil
}

type mapKey struct {
	account, group, ctype, campaign string
	channel, status                 string
	bucket                          int64
}

func (k Key) id() mapKey {
	mk := mapKey{
		account:  k.Account,
		group:    k.Group,
		ctype:    string(k.CampaignType),
		campaign: k.CampaignID,
		channel:  k.Channel,
		status:   k.Status,
	}
	if !k.Bucket.IsZero() {
		mk.bucket = k.Bucket.UnixNano()
	}
	return mk
}

func (k Key) less(o Key) bool {
	if k.Account != o.Account {
		return k.Account < o.Account
	}
	if k.Group != o.Group {
		return k.Group < o.Group
	}
	if k.CampaignType != o.CampaignType {
		return k.CampaignType < o.CampaignType
	}
	if k.CampaignID != o.CampaignID {
		return k.CampaignID < o.CampaignID
	}
	if k.Channel != o.Channel {
		return k.Channel < o.Channel
	}
	if k.Status != o.Status {
		return k.Status < o.Status
	}
	return k.Bucket.Before(o.Bucket)
}

// Row is one aggregated result.
type Row struct {
	Key          Key         `json:"key"`
	CampaignName string      `json:"campaign_name,omitempty"`
	Base         metrics.Set `json:"base"`
	Derived      metrics.Set `json:"derived"`
	Records      int         `json:"records"`
}

// Value looks a metric up in the derived set first, then in the base set.
func (r Row) Value(name string) metrics.Value {
	if v, ok := r.Derived[name]; ok {
		return v
	}
	return r.Base.Get(name)
}

func (g Grouping) project(k Key) Key {
	var out Key
	for _, d := range g.Dimensions {
		switch d {
		case DimAccount:
			out.Account = k.Account
		case DimGroup:
			out.Group = k.Group
		case DimCampaignType:
			out.CampaignType = k.CampaignType
		case DimCampaign:
			out.CampaignID = k.CampaignID
		case DimChannel:
			out.Channel = k.Channel
		case DimStatus:
			out.Status = k.Status
		}
	}
	if g.timed() && !k.Bucket.IsZero() {
		out.Bucket = g.Granularity.Truncate(k.Bucket)
	}
	return out
}

func (g Grouping) keyOf(rec metrics.Record) Key {
	return g.project(Key{
		Account:      rec.Account,
		Group:        rec.Group,
		CampaignType: rec.CampaignType,
		CampaignID:   rec.CampaignID,
		Channel:      rec.Channel,
		Status:       rec.Status,
		Bucket:       rec.Timestamp,
	})
}

type accumulator struct {
	key     Key
	name    string
	base    metrics.Set
	records int
}

type partition struct {
	order []*accumulator
	byKey map[mapKey]*accumulator
}

func newPartition() *partition {
	return &partition{byKey: make(map[mapKey]*accumulator)}
}

func (p *partition) add(k Key, name string, base metrics.Set, records int) {
	id := k.id()
	acc, ok := p.byKey[id]
	if !ok {
		acc = &accumulator{key: k, base: make(metrics.Set)}
		p.byKey[id] = acc
		p.order = append(p.order, acc)
	}
	for m, v := range base {
		acc.base[m] = acc.base[m].Add(v)
	}
	acc.records += records
	if name != "" && (acc.name == "" || name < acc.name) {
		acc.name = name
	}
}

func (p *partition) rows(keepName bool, calc *metrics.Calculator) []Row {
	rows := make([]Row, 0, len(p.order))
	for _, acc := range p.order {
		row := Row{
			Key:     acc.key,
			Base:    acc.base,
			Derived: calc.Derive(acc.base),
			Records: acc.records,
		}
		if keepName {
			row.CampaignName = acc.name
		}
		rows = append(rows, row)
	}
	sortRows(rows)
	return rows
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Key.less(rows[j].Key) })
}

// Aggregate partitions records by the grouping key, sums base metrics and
// derives ratios from the sums. Output order is deterministic.
func Aggregate(records []metrics.Record, g Grouping, calc *metrics.Calculator) ([]Row, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	p := newPartition()
	for _, rec := range records {
		p.add(g.keyOf(rec), rec.CampaignName, rec.Values, 1)
	}
	return p.rows(g.Has(DimCampaign), calc), nil
}

// Reaggregate groups already-aggregated rows by a grouping equal to or
// coarser than the one that produced them. Derived metrics are recomputed
// from summed base metrics, never summed themselves.
func Reaggregate(rows []Row, g Grouping, calc *metrics.Calculator) ([]Row, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	p := newPartition()
	for _, r := range rows {
		p.add(g.project(r.Key), r.CampaignName, r.Base, r.Records)
	}
	return p.rows(g.Has(DimCampaign), calc), nil
}

// BaseNames returns every base metric present in any row, sorted.
func BaseNames(rows []Row) []string {
	seen := make(map[string]bool)
	for _, r := range rows {
		for name := range r.Base {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
