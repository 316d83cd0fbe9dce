package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ignite/campaign-pulse/internal/agent"
	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/klaviyo"
	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/ignite/campaign-pulse/internal/pkg/httputil"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
	"github.com/ignite/campaign-pulse/internal/service/reporting"
	"github.com/ignite/campaign-pulse/internal/storage"
)

// respondServiceError maps service errors onto status codes. 4xx messages
// are about the request and safe to return; anything else is logged and
// replaced with a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case metrics.IsConfigError(err):
		httputil.Unprocessable(w, "invalid_request", err.Error())
	case errors.Is(err, consolidate.ErrUnknownMetric), errors.Is(err, consolidate.ErrDimensionNotInTable):
		httputil.Unprocessable(w, "invalid_metric", err.Error())
	case errors.Is(err, reporting.ErrInvalidAssignment), errors.Is(err, agent.ErrEmptyQuestion):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, reporting.ErrNoData), errors.Is(err, storage.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, reporting.ErrNoFetcher), errors.Is(err, reporting.ErrAssistantOff):
		httputil.ServiceUnavailable(w, err.Error())
	case klaviyo.IsUnauthorized(err):
		logger.Error("klaviyo rejected credentials", "path", r.URL.Path, "error", err)
		httputil.Error(w, http.StatusBadGateway, "upstream rejected credentials")
	case errors.Is(err, context.DeadlineExceeded):
		httputil.Error(w, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
		logger.Debug("request cancelled", "path", r.URL.Path)
	default:
		httputil.InternalError(w, err)
	}
}
