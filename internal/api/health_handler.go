package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/campaign-pulse/internal/pkg/httputil"
	"github.com/ignite/campaign-pulse/internal/storage"
	"github.com/redis/go-redis/v9"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded", "not_configured"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker reports on the database, Redis and snapshot freshness.
// Any dependency can be nil.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	snapshots   storage.SnapshotStore
	maxAge      time.Duration
	startTime   time.Time
}

// NewHealthChecker creates a new HealthChecker. A newest snapshot older
// than maxAge reports degraded.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, snapshots storage.SnapshotStore, maxAge time.Duration) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redisClient: redisClient,
		snapshots:   snapshots,
		maxAge:      maxAge,
		startTime:   time.Now(),
	}
}

const healthVersion = "1.0.0"

// HandleHealth returns the health of every component. Always 200; the
// status field carries the result.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]ComponentCheck{
		"database":  hc.checkDatabase(r.Context()),
		"redis":     hc.checkRedis(r.Context()),
		"snapshots": hc.checkSnapshots(r.Context()),
	}
	httputil.OK(w, HealthStatus{
		Status:  overallStatus(checks),
		Version: healthVersion,
		Uptime:  time.Since(hc.startTime).Truncate(time.Second).String(),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(hc.startTime).Truncate(time.Second).String(),
	})
}

func overallStatus(checks map[string]ComponentCheck) string {
	status := "healthy"
	for _, c := range checks {
		switch c.Status {
		case "down":
			return "unhealthy"
		case "degraded":
			status = "degraded"
		}
	}
	return status
}

// checkDatabase pings PostgreSQL with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// checkRedis pings Redis with a 2-second timeout.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	latency := time.Since(start)
	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	}
	status := "up"
	msg := "connected"
	if latency > 500*time.Millisecond {
		status = "degraded"
		msg = fmt.Sprintf("slow response (%s)", latency)
	}
	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkSnapshots reports the age of the newest snapshot.
func (hc *HealthChecker) checkSnapshots(ctx context.Context) ComponentCheck {
	if hc.snapshots == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	metas, err := hc.snapshots.ListSnapshots(ctx, 1)
	if err != nil {
		return ComponentCheck{Status: "down", Message: fmt.Sprintf("listing failed: %v", err)}
	}
	if len(metas) == 0 {
		return ComponentCheck{Status: "degraded", Message: "no snapshots yet"}
	}
	age := time.Since(metas[0].TakenAt).Truncate(time.Second)
	if hc.maxAge > 0 && age > hc.maxAge {
		return ComponentCheck{Status: "degraded", Message: fmt.Sprintf("newest snapshot is %s old", age)}
	}
	return ComponentCheck{Status: "up", Message: fmt.Sprintf("newest snapshot %s, %s old", metas[0].ID, age)}
}
