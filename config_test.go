package quarry

import (
	"strings"
	"testing"
	"time"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.PollInterval != 500*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.MaxPollInterval != 30*time.Second {
		t.Fatalf("max poll interval = %v", cfg.MaxPollInterval)
	}
	if cfg.ResultFormat != FormatAPI {
		t.Fatalf("result format = %q", cfg.ResultFormat)
	}
	if cfg.PageSize != 1000 {
		t.Fatalf("page size = %d", cfg.PageSize)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("retry attempts = %d", cfg.Retry.MaxAttempts)
	}
	if cfg.QueryTimeout != 0 {
		t.Fatalf("query timeout = %v, want no deadline by default", cfg.QueryTimeout)
	}
}

func TestConfigValidateRejectsUnknownFormat(t *testing.T) {
	cfg := Config{ResultFormat: "orc"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown result format")
	}
}

func TestConfigValidateParquetNeedsOutputLocation(t *testing.T) {
	cfg := Config{ResultFormat: FormatParquet}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error: parquet results require a staging location")
	}
	cfg.OutputLocation = "s3://bucket/stage/"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	cfg, err := Load(mapLookup(map[string]string{
		"QUARRY_REGION":          "eu-central-1",
		"QUARRY_WORKGROUP":       "primary",
		"QUARRY_DATABASE":        "analytics",
		"QUARRY_OUTPUT_LOCATION": "s3://bucket/stage/",
		"QUARRY_POLL_INTERVAL":   "250ms",
		"QUARRY_QUERY_TIMEOUT":   "2m",
		"QUARRY_RESULT_FORMAT":   "Parquet",
		"QUARRY_PAGE_SIZE":       "200",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Region != "eu-central-1" || cfg.Workgroup != "primary" || cfg.Database != "analytics" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.QueryTimeout != 2*time.Minute {
		t.Fatalf("query timeout = %v", cfg.QueryTimeout)
	}
	if cfg.ResultFormat != FormatParquet {
		t.Fatalf("result format = %q, case must not matter", cfg.ResultFormat)
	}
	if cfg.PageSize != 200 {
		t.Fatalf("page size = %d", cfg.PageSize)
	}
	// unset keys keep defaults
	if cfg.MaxPollInterval != 30*time.Second {
		t.Fatalf("max poll interval = %v", cfg.MaxPollInterval)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	_, err := Load(mapLookup(map[string]string{"QUARRY_POLL_INTERVAL": "soon"}))
	if err == nil || !strings.Contains(err.Error(), "QUARRY_POLL_INTERVAL") {
		t.Fatalf("error = %v", err)
	}

	_, err = Load(mapLookup(map[string]string{"QUARRY_PAGE_SIZE": "many"}))
	if err == nil || !strings.Contains(err.Error(), "QUARRY_PAGE_SIZE") {
		t.Fatalf("error = %v", err)
	}
}

func TestLoadValidatesTheResult(t *testing.T) {
	// parquet without a staging location is rejected at load time
	_, err := Load(mapLookup(map[string]string{"QUARRY_RESULT_FORMAT": "parquet"}))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error for nil lookup")
	}
}
