package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/pkg/httputil"
	"github.com/ignite/campaign-pulse/internal/service/reporting"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	reports *reporting.Service
	health  *HealthChecker
	// markdownRows caps rows in markdown output; 0 means all.
	markdownRows int
}

// NewHandlers creates a new Handlers instance
func NewHandlers(reports *reporting.Service, health *HealthChecker) *Handlers {
	if health == nil {
		health = NewHealthChecker(nil, nil, nil, 0)
	}
	return &Handlers{reports: reports, health: health}
}

// SetMarkdownRows caps the rows rendered by ?format=markdown.
func (h *Handlers) SetMarkdownRows(n int) {
	h.markdownRows = n
}

// decodeOptional decodes a JSON body if there is one. An empty body leaves
// dst untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return httputil.Decode(w, r, dst)
}

// Consolidate builds a consolidated table.
//
//	POST /api/reports/consolidate[?format=csv|markdown]
func (h *Handlers) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req reporting.ReportRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	table, err := h.reports.Consolidate(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("X-Run-ID", table.RunID)
	if table.Partial {
		w.Header().Set("X-Partial-Result", "true")
	}

	calc := h.reports.Calculator()
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		httputil.OK(w, table)
	case "csv":
		var buf bytes.Buffer
		if err := consolidate.WriteCSV(&buf, table, calc); err != nil {
			httputil.InternalError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="consolidated-`+table.GeneratedAt.Format("20060102-150405")+`.csv"`)
		httputil.Text(w, http.StatusOK, "text/csv; charset=utf-8", buf.String())
	case "markdown", "md":
		httputil.Text(w, http.StatusOK, "text/markdown; charset=utf-8", consolidate.Markdown(table, calc, h.markdownRows))
	default:
		httputil.BadRequest(w, "unknown format "+strconv.Quote(format)+": use json, csv or markdown")
	}
}

// Scorecard returns metric totals with benchmark comparisons.
//
//	POST /api/reports/scorecard
func (h *Handlers) Scorecard(w http.ResponseWriter, r *http.Request) {
	var req reporting.ScorecardRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.reports.Scorecard(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// GetGroups returns saved assignments and configured rules.
//
//	GET /api/groups
func (h *Handlers) GetGroups(w http.ResponseWriter, r *http.Request) {
	view, err := h.reports.Groups(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, view)
}

// SaveGroups saves and removes campaign to group assignments.
//
//	PUT /api/groups
func (h *Handlers) SaveGroups(w http.ResponseWriter, r *http.Request) {
	var u reporting.GroupsUpdate
	if !httputil.Decode(w, r, &u) {
		return
	}
	view, err := h.reports.SaveGroups(r.Context(), u)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, view)
}

// ListSnapshots lists stored snapshots, newest first.
//
//	GET /api/snapshots?limit=20
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	metas, err := h.reports.Snapshots(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"snapshots": metas, "count": len(metas)})
}

// RefreshSnapshot fetches every account now and stores a snapshot.
//
//	POST /api/snapshots?lookback_days=30
func (h *Handlers) RefreshSnapshot(w http.ResponseWriter, r *http.Request) {
	var lookback time.Duration
	if raw := r.URL.Query().Get("lookback_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			httputil.BadRequest(w, "lookback_days must be a positive integer")
			return
		}
		lookback = time.Duration(days) * 24 * time.Hour
	}
	meta, err := h.reports.RefreshSnapshot(r.Context(), lookback)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.Created(w, meta)
}

// Ask answers a question about a consolidated table.
//
//	POST /api/assistant/ask
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	var req reporting.AskRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.reports.Ask(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}
