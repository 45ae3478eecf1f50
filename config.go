package quarry

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves one environment key. Injected so config loading is
// testable without touching the process environment.
type LookupFunc func(string) (string, bool)

// ResultFormat selects how a cursor reads the rows of a completed query.
type ResultFormat string

const (
	// FormatAPI streams rows through the service's paginated result API.
	FormatAPI ResultFormat = "api"
	// FormatCSV reads the delimited-text output object directly.
	FormatCSV ResultFormat = "csv"
	// FormatParquet wraps SELECT statements in UNLOAD and reads the
	// columnar output objects.
	FormatParquet ResultFormat = "parquet"
)

// RetryConfig bounds how transient gateway faults are retried.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Config is the explicit configuration for a Connection. Zero values fall
// back to the defaults below; nothing is read from ambient process state
// unless the caller goes through Load.
type Config struct {
	// Remote service target.
	Region         string
	Workgroup      string
	Catalog        string
	Database       string
	OutputLocation string // object-storage staging prefix, e.g. s3://bucket/prefix/

	// Credentials. Empty means the ambient provider chain of the gateway
	// implementation.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// StorageEndpoint overrides the object-storage endpoint for
	// S3-compatible deployments. Empty selects the regional default.
	StorageEndpoint string

	// Polling.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	PollMultiplier  float64
	QueryTimeout    time.Duration // zero means no deadline

	// Results.
	ResultFormat ResultFormat
	PageSize     int

	Retry RetryConfig

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = 30 * time.Second
	}
	if c.PollMultiplier < 1 {
		c.PollMultiplier = 1
	}
	if c.ResultFormat == "" {
		c.ResultFormat = FormatAPI
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 100 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	return c
}

// Validate checks the fields every gateway needs. Gateway-specific
// requirements (region, credentials) are validated by the gateway
// constructor.
func (c Config) Validate() error {
	switch c.ResultFormat {
	case "", FormatAPI, FormatCSV, FormatParquet:
	default:
		return fmt.Errorf("invalid result format %q", c.ResultFormat)
	}
	if c.ResultFormat == FormatParquet && strings.TrimSpace(c.OutputLocation) == "" {
		return fmt.Errorf("output location is required for parquet results")
	}
	return nil
}

// LoadFromEnv reads configuration from QUARRY_* environment variables.
func LoadFromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load reads configuration through lookup, starting from defaults.
func Load(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := Config{}.withDefaults()

	applyString(lookup, "QUARRY_REGION", &cfg.Region)
	applyString(lookup, "QUARRY_WORKGROUP", &cfg.Workgroup)
	applyString(lookup, "QUARRY_CATALOG", &cfg.Catalog)
	applyString(lookup, "QUARRY_DATABASE", &cfg.Database)
	applyString(lookup, "QUARRY_OUTPUT_LOCATION", &cfg.OutputLocation)
	applyString(lookup, "QUARRY_ACCESS_KEY_ID", &cfg.AccessKeyID)
	applyString(lookup, "QUARRY_SECRET_ACCESS_KEY", &cfg.SecretAccessKey)
	applyString(lookup, "QUARRY_SESSION_TOKEN", &cfg.SessionToken)
	applyString(lookup, "QUARRY_STORAGE_ENDPOINT", &cfg.StorageEndpoint)

	if err := applyDuration(lookup, "QUARRY_POLL_INTERVAL", &cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUARRY_MAX_POLL_INTERVAL", &cfg.MaxPollInterval); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "QUARRY_POLL_MULTIPLIER", &cfg.PollMultiplier); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUARRY_QUERY_TIMEOUT", &cfg.QueryTimeout); err != nil {
		return Config{}, err
	}
	if raw, ok := lookup("QUARRY_RESULT_FORMAT"); ok {
		cfg.ResultFormat = ResultFormat(strings.ToLower(strings.TrimSpace(raw)))
	}
	if err := applyInt(lookup, "QUARRY_PAGE_SIZE", &cfg.PageSize); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUARRY_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUARRY_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUARRY_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) {
	if raw, ok := lookup(key); ok {
		*dst = strings.TrimSpace(raw)
	}
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}
