// Package config loads stridesync settings for the CLI.
//
// Settings are layered with koanf: built-in defaults, then stridesync.yaml,
// then STRIDESYNC_* environment variables, then explicitly set flags.
package config

import (
	"time"

	"github.com/leapstack-labs/stridesync/internal/archive"
	"github.com/leapstack-labs/stridesync/internal/fetch"
	"github.com/leapstack-labs/stridesync/internal/notify"
	"github.com/leapstack-labs/stridesync/internal/pipeline"
	"github.com/leapstack-labs/stridesync/internal/retention"
	"github.com/leapstack-labs/stridesync/internal/retry"
	"github.com/leapstack-labs/stridesync/internal/source"
	"github.com/leapstack-labs/stridesync/internal/writer"
	"github.com/leapstack-labs/stridesync/pkg/core"
	"github.com/leapstack-labs/stridesync/pkg/sink"
)

// Config holds all CLI configuration options.
type Config struct {
	Source    source.Config    `koanf:"source"`
	Retry     retry.Policy     `koanf:"retry"`
	Sink      SinkConfig       `koanf:"sink"`
	Pipeline  pipeline.Config  `koanf:"pipeline"`
	Retention retention.Config `koanf:"retention"`
	StatePath string           `koanf:"state_path" validate:"required"`
	Schedule  ScheduleConfig   `koanf:"schedule"`
	Archive   archive.Config   `koanf:"archive"`
	Notify    notify.Config    `koanf:"notify"`

	// Date overrides the partition to sync (YYYY-MM-DD, default today UTC).
	Date      string `koanf:"date" validate:"omitempty,datetime=2006-01-02"`
	Output    string `koanf:"output" validate:"oneof=auto text markdown md json yaml"`
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`
	Verbose   bool   `koanf:"verbose"`
}

// SinkConfig selects and tunes the sink.
type SinkConfig struct {
	Type       string         `koanf:"type" validate:"required"`
	DSN        string         `koanf:"dsn"`
	Params     map[string]any `koanf:"params"`
	BatchSize  int            `koanf:"batch_size" validate:"gt=0"`
	WriteDelay time.Duration  `koanf:"write_delay" validate:"gte=0"`
}

// Conn returns the connection settings passed to sink.Connect.
func (s SinkConfig) Conn() sink.Config {
	return sink.Config{Type: s.Type, DSN: s.DSN, Params: s.Params}
}

// ScheduleConfig holds the scheduled mode settings.
type ScheduleConfig struct {
	Interval    time.Duration `koanf:"interval" validate:"gt=0"`
	MetricsAddr string        `koanf:"metrics_addr"`
}

// Default configuration values.
const (
	DefaultSinkType    = "sqlite"
	DefaultSinkDSN     = ".stridesync/transit.db"
	DefaultStateFile   = ".stridesync/state.db"
	DefaultInterval    = 24 * time.Hour
	DefaultMetricsAddr = ":9464"
	DefaultOutput      = "auto" // TTY=text, non-TTY=markdown
	DefaultLogFormat   = "text"
	DefaultBucket      = "stridesync-raw"
)

// ConfigFileNames are searched in the working directory, in order.
var ConfigFileNames = []string{"stridesync.yaml", "stridesync.yml"}

// Partition returns the configured partition, or the UTC day of now.
func (c *Config) Partition(now time.Time) (core.Partition, error) {
	if c.Date == "" {
		return core.PartitionOf(now), nil
	}
	return core.ParsePartition(c.Date)
}

// PipelineOptions maps the settings onto the pipeline tuning.
func (c *Config) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Pipeline = c.Pipeline
	opts.Retry = c.Retry
	opts.PageSize = c.Source.PageSize
	opts.InterBatchDelay = c.Source.InterBatchDelay
	opts.BatchSize = c.Sink.BatchSize
	opts.WriteDelay = c.Sink.WriteDelay
	opts.Retention = c.Retention
	return opts
}

func defaults() map[string]any {
	policy := retry.DefaultPolicy()
	pc := pipeline.DefaultConfig()
	return map[string]any{
		"source.base_url":          source.DefaultBaseURL,
		"source.page_size":         fetch.DefaultPageSize,
		"source.request_timeout":   60 * time.Second,
		"source.health_timeout":    10 * time.Second,
		"source.inter_batch_delay": fetch.DefaultInterBatchDelay,
		"source.user_agent":        "stridesync",

		"retry.max_attempts":     policy.MaxAttempts,
		"retry.initial_interval": policy.InitialInterval,
		"retry.max_interval":     policy.MaxInterval,
		"retry.multiplier":       policy.Multiplier,

		"sink.type":        DefaultSinkType,
		"sink.dsn":         DefaultSinkDSN,
		"sink.batch_size":  writer.DefaultBatchSize,
		"sink.write_delay": writer.DefaultDelay,

		"pipeline.flush_threshold":    pc.FlushThreshold,
		"pipeline.trip_sample":        pc.TripSample,
		"pipeline.trip_server_filter": pc.TripServerFilter,

		"retention.keep_days": retention.DefaultKeepDays,
		"retention.tables":    retention.DefaultTables,

		"state_path":            DefaultStateFile,
		"schedule.interval":     DefaultInterval,
		"schedule.metrics_addr": DefaultMetricsAddr,
		"archive.bucket":        DefaultBucket,
		"archive.use_ssl":       true,
		"notify.queue":          notify.DefaultQueue,
		"output":                DefaultOutput,
		"log_format":            DefaultLogFormat,
		"verbose":               false,
	}
}
