package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/campaign-pulse/internal/aggregate"
	"github.com/ignite/campaign-pulse/internal/datanorm"
	"github.com/ignite/campaign-pulse/internal/grouping"
	"github.com/ignite/campaign-pulse/internal/metrics"
)

// Config holds all configuration for the application
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Klaviyo KlaviyoConfig `yaml:"klaviyo"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Agent   AgentConfig   `yaml:"agent"`
	Worker  WorkerConfig  `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// KlaviyoConfig holds Klaviyo API configuration
type KlaviyoConfig struct {
	BaseURL        string           `yaml:"base_url"`
	Revision       string           `yaml:"revision"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
	MaxRetries     int              `yaml:"max_retries"`
	Statistics     []string         `yaml:"statistics"`
	Accounts       []KlaviyoAccount `yaml:"accounts"`
}

// Timeout returns the configured timeout as a duration
func (c KlaviyoConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// KlaviyoAccount is one regional Klaviyo account.
type KlaviyoAccount struct {
	Name               string             `yaml:"name"`
	APIKey             string             `yaml:"api_key"`
	ConversionMetricID string             `yaml:"conversion_metric_id"`
	Timezone           string             `yaml:"timezone"`
	Units              map[string]float64 `yaml:"units"`
	Aliases            map[string]string  `yaml:"aliases"`
}

// EngineConfig configures normalization, grouping and derived metrics.
type EngineConfig struct {
	ReferenceTimezone  string                `yaml:"reference_timezone"`
	Aliases            map[string]string     `yaml:"aliases"`
	IdentityAliases    map[string][]string   `yaml:"identity_aliases"`
	IgnoreFields       []string              `yaml:"ignore_fields"`
	Backfill           []datanorm.Backfill   `yaml:"backfill"`
	GroupingRules      []grouping.Rule       `yaml:"grouping_rules"`
	AssignmentPriority int                   `yaml:"assignment_priority"`
	DerivedMetrics     []metrics.DerivedSpec `yaml:"derived_metrics"`
	Benchmarks         map[string]float64    `yaml:"benchmarks"`
	DefaultDimensions  []string              `yaml:"default_dimensions"`
	DefaultGranularity string                `yaml:"default_granularity"`
	MaxParallel        int                   `yaml:"max_parallel"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type          string `yaml:"type"` // local, aws or postgres
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	S3Prefix      string `yaml:"s3_prefix"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	DatabaseURL   string `yaml:"database_url"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// CacheConfig holds the Redis result cache configuration
type CacheConfig struct {
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the cache lifetime as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// AgentConfig holds the Bedrock assistant configuration
type AgentConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelID   string `yaml:"model_id"`
	Region    string `yaml:"region"`
	MaxTokens int    `yaml:"max_tokens"`
	MaxRows   int    `yaml:"max_rows"`
}

// WorkerConfig holds the snapshot refresher configuration
type WorkerConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	LookbackDays    int `yaml:"lookback_days"`
	LockTTLSeconds  int `yaml:"lock_ttl_seconds"`
}

// Interval returns the refresh interval as a duration
func (c WorkerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// LockTTL returns the distributed lock lifetime as a duration
func (c WorkerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// DefaultDerivedMetrics are the dashboard's rate metrics, all over sends
// and shown as percentages.
func DefaultDerivedMetrics() []metrics.DerivedSpec {
	pct := func(name, num string, precision int32) metrics.DerivedSpec {
		return metrics.DerivedSpec{
			Name: name, Numerator: num, Denominator: datanorm.MetricSends,
			ZeroPolicy: metrics.ZeroUndefined, Precision: precision, Scale: 100, Unit: "%",
		}
	}
	return []metrics.DerivedSpec{
		pct("open_rate", datanorm.MetricOpens, 2),
		pct("click_rate", datanorm.MetricClicks, 2),
		pct("bounce_rate", datanorm.MetricBounced, 2),
		pct("spam_complaint_rate", datanorm.MetricSpamComplaints, 4),
		pct("unsubscribe_rate", datanorm.MetricUnsubscribes, 3),
		// Revenue over orders, so groups get a true average rather than a
		// mean of per-campaign averages.
		{
			Name: "average_order_value", Numerator: datanorm.MetricRevenue, Denominator: datanorm.MetricConversions,
			ZeroPolicy: metrics.ZeroUndefined, Precision: 2, Scale: 1,
		},
	}
}

// DefaultBenchmarks are industry averages for the default rate metrics.
func DefaultBenchmarks() map[string]float64 {
	return map[string]float64{
		"open_rate":           0.432,
		"click_rate":          0.0125,
		"bounce_rate":         0.00631,
		"spam_complaint_rate": 0.0000787,
		"unsubscribe_rate":    0.00285,
	}
}

// DefaultStatistics are the campaign-values-report statistics requested
// when none are configured.
func DefaultStatistics() []string {
	return []string{
		"bounce_rate", "click_rate", "conversion_rate", "delivery_rate",
		"open_rate", "spam_complaint_rate", "unsubscribe_rate",
		"average_order_value", "opens", "clicks", "delivered",
		"spam_complaints", "unsubscribes", "bounced",
		"conversion_value", "conversion_uniques",
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Klaviyo.BaseURL == "" {
		cfg.Klaviyo.BaseURL = "https://a.klaviyo.com"
	}
	if cfg.Klaviyo.Revision == "" {
		cfg.Klaviyo.Revision = "2025-10-15"
	}
	if cfg.Klaviyo.TimeoutSeconds == 0 {
		cfg.Klaviyo.TimeoutSeconds = 60
	}
	if cfg.Klaviyo.MaxRetries == 0 {
		cfg.Klaviyo.MaxRetries = 3
	}
	if len(cfg.Klaviyo.Statistics) == 0 {
		cfg.Klaviyo.Statistics = DefaultStatistics()
	}
	if cfg.Engine.ReferenceTimezone == "" {
		cfg.Engine.ReferenceTimezone = "UTC"
	}
	if cfg.Engine.IgnoreFields == nil {
		cfg.Engine.IgnoreFields = datanorm.DefaultIgnore()
	}
	if cfg.Engine.Backfill == nil {
		cfg.Engine.Backfill = datanorm.DefaultBackfill()
	}
	if len(cfg.Engine.DerivedMetrics) == 0 {
		cfg.Engine.DerivedMetrics = DefaultDerivedMetrics()
	}
	if cfg.Engine.Benchmarks == nil {
		cfg.Engine.Benchmarks = DefaultBenchmarks()
	}
	if len(cfg.Engine.DefaultDimensions) == 0 {
		cfg.Engine.DefaultDimensions = []string{"account", "group"}
	}
	if cfg.Engine.MaxParallel == 0 {
		cfg.Engine.MaxParallel = 8
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 600
	}
	if cfg.Agent.ModelID == "" {
		cfg.Agent.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.Agent.Region == "" {
		cfg.Agent.Region = cfg.Storage.AWSRegion
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 2048
	}
	if cfg.Agent.MaxRows == 0 {
		cfg.Agent.MaxRows = 200
	}
	if cfg.Worker.IntervalMinutes == 0 {
		cfg.Worker.IntervalMinutes = 60
	}
	if cfg.Worker.LookbackDays == 0 {
		cfg.Worker.LookbackDays = 30
	}
	if cfg.Worker.LockTTLSeconds == 0 {
		cfg.Worker.LockTTLSeconds = 300
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// KLAVIYO_SG_API_KEY, KLAVIYO_INTL_API_KEY, ...
	for i := range cfg.Klaviyo.Accounts {
		acct := &cfg.Klaviyo.Accounts[i]
		prefix := "KLAVIYO_" + envName(acct.Name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			acct.APIKey = v
		}
		if v := os.Getenv(prefix + "_CONVERSION_METRIC_ID"); v != "" {
			acct.ConversionMetricID = v
		}
	}
	if v := os.Getenv("KLAVIYO_BASE_URL"); v != "" {
		cfg.Klaviyo.BaseURL = v
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Storage.DatabaseURL = dbURL
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("SNAPSHOT_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}

	return cfg, nil
}

func envName(account string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return strings.ToUpper(r.Replace(account))
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Klaviyo.Accounts))
	for _, a := range c.Klaviyo.Accounts {
		if a.Name == "" {
			return fmt.Errorf("klaviyo account without a name")
		}
		if seen[a.Name] {
			return fmt.Errorf("klaviyo account %q configured twice", a.Name)
		}
		seen[a.Name] = true
	}
	switch c.Storage.Type {
	case "local", "aws", "postgres":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == "postgres" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("storage type postgres needs database_url")
	}
	if c.Storage.Type == "aws" && (c.Storage.S3Bucket == "" || c.Storage.DynamoDBTable == "") {
		return fmt.Errorf("storage type aws needs s3_bucket and dynamodb_table")
	}
	return nil
}

// AccountNames lists configured account names in declaration order.
func (c KlaviyoConfig) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i, a := range c.Accounts {
		names[i] = a.Name
	}
	return names
}

// NormalizerOptions converts engine and account settings for datanorm.
func (c *Config) NormalizerOptions() datanorm.Options {
	opts := datanorm.Options{
		Aliases:           c.Engine.Aliases,
		Ignore:            c.Engine.IgnoreFields,
		Backfill:          c.Engine.Backfill,
		ReferenceTimezone: c.Engine.ReferenceTimezone,
	}
	if len(c.Engine.IdentityAliases) > 0 {
		opts.Identity = datanorm.DefaultIdentity()
		for field, names := range c.Engine.IdentityAliases {
			opts.Identity[datanorm.IdentityField(field)] = names
		}
	}
	if opts.Aliases != nil {
		merged := datanorm.DefaultAliases()
		for k, v := range opts.Aliases {
			merged[k] = v
		}
		opts.Aliases = merged
	}

	for _, a := range c.Klaviyo.Accounts {
		if a.Timezone == "" && len(a.Units) == 0 && len(a.Aliases) == 0 {
			continue
		}
		if opts.Accounts == nil {
			opts.Accounts = make(map[string]datanorm.AccountOptions)
		}
		opts.Accounts[a.Name] = datanorm.AccountOptions{Timezone: a.Timezone, Units: a.Units, Aliases: a.Aliases}
	}
	return opts
}

// Calculator builds the derived metric calculator.
func (c EngineConfig) Calculator() (*metrics.Calculator, error) {
	return metrics.NewCalculator(c.DerivedMetrics)
}

// DefaultGrouping parses the default dimensions and granularity.
func (c EngineConfig) DefaultGrouping() (aggregate.Grouping, error) {
	return ParseGrouping(c.DefaultDimensions, c.DefaultGranularity)
}

// ParseGrouping accepts dimension and granularity names as written in
// config files and requests.
func ParseGrouping(dimensions []string, granularity string) (aggregate.Grouping, error) {
	var g aggregate.Grouping
	for _, raw := range dimensions {
		d, err := aggregate.ParseDimension(raw)
		if err != nil {
			return g, err
		}
		g.Dimensions = append(g.Dimensions, d)
	}
	gran, err := aggregate.ParseGranularity(granularity)
	if err != nil {
		return g, err
	}
	g.Granularity = gran
	return g, g.Validate()
}
