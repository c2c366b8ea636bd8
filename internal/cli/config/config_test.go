package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/stridesync/internal/retention"
	"github.com/leapstack-labs/stridesync/internal/source"
	"github.com/leapstack-labs/stridesync/pkg/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stridesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.String("sink-type", "", "")
	flags.String("sink-dsn", "", "")
	flags.String("state", "", "")
	flags.String("log-format", "", "")
	flags.String("output", "", "")
	flags.String("date", "", "")
	flags.Bool("verbose", false, "")
	return flags
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, source.DefaultBaseURL, cfg.Source.BaseURL)
	assert.Equal(t, 5000, cfg.Source.PageSize)
	assert.Equal(t, 60*time.Second, cfg.Source.RequestTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Source.InterBatchDelay)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, DefaultSinkType, cfg.Sink.Type)
	assert.Equal(t, DefaultSinkDSN, cfg.Sink.DSN)
	assert.Equal(t, 1000, cfg.Sink.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Sink.WriteDelay)
	assert.Equal(t, 10000, cfg.Pipeline.FlushThreshold)
	assert.Equal(t, 10000, cfg.Pipeline.TripSample)
	assert.True(t, cfg.Pipeline.TripServerFilter)
	assert.Equal(t, 7, cfg.Retention.KeepDays)
	assert.Equal(t, retention.DefaultTables, cfg.Retention.Tables)
	assert.Equal(t, DefaultStateFile, cfg.StatePath)
	assert.Equal(t, DefaultInterval, cfg.Schedule.Interval)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_File(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, `
source:
  page_size: 200
retry:
  max_attempts: 3
sink:
  type: duckdb
  dsn: /tmp/transit.duckdb
  params:
    threads: 2
pipeline:
  abort_on: [stops]
  trip_server_filter: false
retention:
  keep_days: 14
  tables: [stops, rides]
`)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, GetConfigFileUsed())
	assert.Equal(t, 200, cfg.Source.PageSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.InitialInterval, "unset keys keep defaults")
	assert.Equal(t, "duckdb", cfg.Sink.Type)
	assert.Equal(t, "/tmp/transit.duckdb", cfg.Sink.Conn().DSN)
	assert.EqualValues(t, 2, cfg.Sink.Params["threads"])
	assert.Equal(t, []string{"stops"}, cfg.Pipeline.AbortOn)
	assert.False(t, cfg.Pipeline.TripServerFilter)
	assert.Equal(t, 14, cfg.Retention.KeepDays)
	assert.Equal(t, []string{"stops", "rides"}, cfg.Retention.Tables)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	ResetConfig()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.ErrorContains(t, err, "error reading config file")
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, "state_path: from_file\nsink:\n  dsn: file.db\n")

	t.Run("env overrides file", func(t *testing.T) {
		ResetConfig()
		t.Setenv("STRIDESYNC_STATE_PATH", "from_env")
		t.Setenv("STRIDESYNC_SINK__DSN", "env.db")

		cfg, err := LoadConfig(path, testFlags())
		require.NoError(t, err)
		assert.Equal(t, "from_env", cfg.StatePath)
		assert.Equal(t, "env.db", cfg.Sink.DSN)
	})

	t.Run("flag overrides env", func(t *testing.T) {
		ResetConfig()
		t.Setenv("STRIDESYNC_STATE_PATH", "from_env")
		t.Setenv("STRIDESYNC_SINK__DSN", "env.db")

		flags := testFlags()
		require.NoError(t, flags.Set("state", "from_flag"))
		require.NoError(t, flags.Set("sink-dsn", "flag.db"))
		require.NoError(t, flags.Set("log-format", "json"))

		cfg, err := LoadConfig(path, flags)
		require.NoError(t, err)
		assert.Equal(t, "from_flag", cfg.StatePath)
		assert.Equal(t, "flag.db", cfg.Sink.DSN)
		assert.Equal(t, "json", cfg.LogFormat)
	})

	t.Run("unset flag keeps env", func(t *testing.T) {
		ResetConfig()
		t.Setenv("STRIDESYNC_STATE_PATH", "from_env")

		cfg, err := LoadConfig(path, testFlags())
		require.NoError(t, err)
		assert.Equal(t, "from_env", cfg.StatePath)
	})

	t.Run("env numbers are decoded", func(t *testing.T) {
		ResetConfig()
		t.Setenv("STRIDESYNC_SOURCE__PAGE_SIZE", "250")
		t.Setenv("STRIDESYNC_SOURCE__INTER_BATCH_DELAY", "1s")

		cfg, err := LoadConfig(path, nil)
		require.NoError(t, err)
		assert.Equal(t, 250, cfg.Source.PageSize)
		assert.Equal(t, time.Second, cfg.Source.InterBatchDelay)
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad url", "source:\n  base_url: not a url\n", "source.base_url must be a URL"},
		{"zero page size", "source:\n  page_size: 0\n", "source.page_size must satisfy gt=0"},
		{"bad output", "output: html\n", "output must be one of"},
		{"bad abort stage", "pipeline:\n  abort_on: [everything]\n", "pipeline.abort_on[0] must be one of"},
		{"bad retention table", "retention:\n  tables: [users]\n", "retention.tables[0] must be one of"},
		{"bad date", "date: 19/10/2026\n", "date must be a date"},
		{"postgres without dsn", "sink:\n  type: postgres\n  dsn: \"\"\n", "sink.dsn is required for sink type postgres"},
		{"archive without endpoint", "archive:\n  enabled: true\n", "archive.endpoint is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			for _, name := range []string{EnvSupabaseDBURL, EnvSupabaseURL, EnvSupabaseDBPassword} {
				t.Setenv(name, "")
			}
			_, err := LoadConfig(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")
	t.Setenv("TEST_VAR_TWO", "value_two")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single variable", "${TEST_VAR_ONE}", "value_one"},
		{"multiple variables", "${TEST_VAR_ONE}/${TEST_VAR_TWO}", "value_one/value_two"},
		{"unset variable stays as-is", "${UNSET_VARIABLE}", "${UNSET_VARIABLE}"},
		{"no variables", "plain string", "plain string"},
		{"empty string", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestLoadConfig_ExpandsDSN(t *testing.T) {
	ResetConfig()
	t.Setenv("PG_PASSWORD", "s3cret")
	path := writeConfig(t, "sink:\n  type: postgres\n  dsn: postgres://sync:${PG_PASSWORD}@db:5432/transit\n")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://sync:s3cret@db:5432/transit", cfg.Sink.DSN)
}

func TestApplyCompatEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		cfg     Config
		wantDSN string
	}{
		{
			name:    "db url fills empty dsn",
			env:     map[string]string{EnvSupabaseDBURL: "postgres://postgres:pw@db.abc.supabase.co:5432/postgres"},
			cfg:     Config{Sink: SinkConfig{Type: "postgres"}},
			wantDSN: "postgres://postgres:pw@db.abc.supabase.co:5432/postgres",
		},
		{
			name: "project url and db password",
			env: map[string]string{
				EnvSupabaseURL:        "https://abc.supabase.co",
				EnvSupabaseDBPassword: "pw",
			},
			cfg:     Config{Sink: SinkConfig{Type: "postgres"}},
			wantDSN: "postgres://postgres:pw@db.abc.supabase.co:5432/postgres?sslmode=require",
		},
		{
			name: "service key is not a password",
			env: map[string]string{
				EnvSupabaseURL:         "https://abc.supabase.co",
				"SUPABASE_SERVICE_KEY": "eyJhbGciOiJIUzI1NiJ9.service",
			},
			cfg:     Config{Sink: SinkConfig{Type: "postgres"}},
			wantDSN: "postgres://postgres@db.abc.supabase.co:5432/postgres?sslmode=require",
		},
		{
			name:    "explicit dsn wins",
			env:     map[string]string{EnvSupabaseDBURL: "postgres://other"},
			cfg:     Config{Sink: SinkConfig{Type: "postgres", DSN: "postgres://u:p@h/db"}},
			wantDSN: "postgres://u:p@h/db",
		},
		{
			name:    "other sinks are untouched",
			env:     map[string]string{EnvSupabaseDBURL: "postgres://other"},
			cfg:     Config{Sink: SinkConfig{Type: "sqlite", DSN: "transit.db"}},
			wantDSN: "transit.db",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, name := range []string{EnvSupabaseDBURL, EnvSupabaseURL, EnvSupabaseDBPassword, "SUPABASE_SERVICE_KEY"} {
				t.Setenv(name, tt.env[name])
			}
			cfg := tt.cfg
			applyCompatEnv(&cfg)
			assert.Equal(t, tt.wantDSN, cfg.Sink.DSN)
		})
	}
}

func TestConfig_Partition(t *testing.T) {
	now := time.Date(2026, 10, 19, 23, 30, 0, 0, time.FixedZone("IDT", 3*3600))

	p, err := (&Config{}).Partition(now)
	require.NoError(t, err)
	assert.Equal(t, core.Partition("2026-10-19"), p)

	p, err = (&Config{Date: "2026-10-01"}).Partition(now)
	require.NoError(t, err)
	assert.Equal(t, core.Partition("2026-10-01"), p)
}

func TestConfig_PipelineOptions(t *testing.T) {
	ResetConfig()
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	opts := cfg.PipelineOptions()
	assert.Equal(t, cfg.Source.PageSize, opts.PageSize)
	assert.Equal(t, cfg.Sink.BatchSize, opts.BatchSize)
	assert.Equal(t, cfg.Retry, opts.Retry)
	assert.Equal(t, cfg.Retention.KeepDays, opts.Retention.KeepDays)
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := NewLogger(os.Stderr, "json", true)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
}
