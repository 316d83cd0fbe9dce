// Package app wires configuration into the stores, clients and services
// shared by cmd/server and cmd/worker.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/ignite/campaign-pulse/internal/agent"
	"github.com/ignite/campaign-pulse/internal/config"
	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/datanorm"
	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/ignite/campaign-pulse/internal/klaviyo"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
	"github.com/ignite/campaign-pulse/internal/service/reporting"
	"github.com/ignite/campaign-pulse/internal/storage"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// App holds everything built from one Config.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Redis   *redis.Client
	Store   storage.Store
	Cache   *storage.ResultCache
	Klaviyo *klaviyo.Client
	Reports *reporting.Service
}

// New connects the configured backends and builds the reporting service.
// Engine configuration errors are returned before anything is served.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg}

	if cfg.Storage.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.DB = db
		log.Println("[app] Connected to PostgreSQL")
	}

	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The cache and lock are optional; run without them.
			logger.Warn("redis unavailable, continuing without cache", "error", err)
			client.Close()
		} else {
			a.Redis = client
			a.Cache = storage.NewResultCacheWithClient(client, cfg.Cache.TTL())
			log.Printf("[app] Result cache enabled (ttl %s)", cfg.Cache.TTL())
		}
	}

	store, err := storage.New(ctx, cfg.Storage, a.DB)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store
	log.Printf("[app] Storage backend: %s", cfg.Storage.Type)

	builder, err := newBuilder(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	grp, err := cfg.Engine.DefaultGrouping()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Klaviyo = klaviyo.NewClient(klaviyo.Config{
		BaseURL:    cfg.Klaviyo.BaseURL,
		Revision:   cfg.Klaviyo.Revision,
		Timeout:    cfg.Klaviyo.Timeout(),
		MaxRetries: cfg.Klaviyo.MaxRetries,
		Statistics: cfg.Klaviyo.Statistics,
	})

	accounts := Accounts(cfg)
	a.Reports = reporting.NewService(builder, store, store, reporting.Options{
		Accounts:           accounts,
		Rules:              cfg.Engine.GroupingRules,
		AssignmentPriority: cfg.Engine.AssignmentPriority,
		Benchmarks:         cfg.Engine.Benchmarks,
		DefaultGrouping:    grp,
		Lookback:           time.Duration(cfg.Worker.LookbackDays) * 24 * time.Hour,
		MaxParallel:        cfg.Engine.MaxParallel,
	})
	if len(accounts) > 0 {
		a.Reports.SetFetcher(a.Klaviyo)
	}
	a.Reports.SetCache(a.Cache)
	log.Printf("[app] Klaviyo accounts: %v", cfg.Klaviyo.AccountNames())

	return a, nil
}

// EnableAssistant attaches the Bedrock assistant when the agent section
// is enabled.
func (a *App) EnableAssistant(ctx context.Context) error {
	if !a.Config.Agent.Enabled {
		return nil
	}
	awsCfg, err := storage.LoadAWSConfig(ctx, a.Config.Storage, a.Config.Agent.Region)
	if err != nil {
		return err
	}
	assistant, err := agent.NewFromConfig(awsCfg, a.Config.Agent)
	if err != nil {
		return err
	}
	a.Reports.SetAssistant(assistant)
	log.Printf("[app] Assistant enabled (model %s)", a.Config.Agent.ModelID)
	return nil
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// Accounts converts the configured accounts for the Klaviyo client.
// Accounts without an API key are kept; their fetch fails and shows up as
// an excluded account.
func Accounts(cfg *config.Config) []klaviyo.Account {
	out := make([]klaviyo.Account, 0, len(cfg.Klaviyo.Accounts))
	for _, acct := range cfg.Klaviyo.Accounts {
		if acct.APIKey == "" {
			logger.Warn("klaviyo account has no API key", "account", acct.Name)
		}
		out = append(out, klaviyo.Account{
			Name:               acct.Name,
			APIKey:             acct.APIKey,
			ConversionMetricID: acct.ConversionMetricID,
			Timezone:           acct.Timezone,
		})
	}
	return out
}

func newBuilder(cfg *config.Config) (*consolidate.Builder, error) {
	n, err := datanorm.NewNormalizer(cfg.NormalizerOptions())
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}
	calc, err := cfg.Engine.Calculator()
	if err != nil {
		return nil, fmt.Errorf("derived metrics: %w", err)
	}
	// Validates the configured rules up front; requests use their own
	// resolver with saved assignments merged in.
	r, err := grouping.NewResolver(cfg.Engine.GroupingRules)
	if err != nil {
		return nil, fmt.Errorf("grouping rules: %w", err)
	}
	return consolidate.NewBuilder(n, r, calc, consolidate.Options{MaxParallel: cfg.Engine.MaxParallel})
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}
