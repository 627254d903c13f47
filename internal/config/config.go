// Package config provides configuration loading and management for the coordinator.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ocrfarm/coordinator/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables read by the coordinator.
const EnvPrefix = "OCR_COORD"

// PasswordEnvVar is the environment variable consulted for the database
// password when no password file is configured.
const PasswordEnvVar = EnvPrefix + "_DATABASE_PASSWORD"

const (
	// DefaultStalenessThreshold is the age after which a lock is considered
	// abandoned by a crashed worker.
	DefaultStalenessThreshold = 3 * time.Minute

	// DefaultSweepInterval is how often the serve process sweeps stale locks.
	DefaultSweepInterval = 30 * time.Second

	// DefaultPauseBuffer is added to a provider supplied reset time.
	DefaultPauseBuffer = 180 * time.Second

	// DefaultFallbackPause is used when a rate limit carries no reset time.
	DefaultFallbackPause = 60 * time.Minute

	// MinFallbackPause is the shortest fallback pause accepted.
	MinFallbackPause = 5 * time.Minute

	// DefaultResumeInterval is how often expired pauses are cleared.
	DefaultResumeInterval = 30 * time.Second

	// DefaultPollInterval is how often an idle worker looks for work.
	DefaultPollInterval = 5 * time.Second

	// DefaultExecutionTimeout bounds a single executor invocation.
	DefaultExecutionTimeout = 10 * time.Minute

	// DefaultServerAddress is the admin API listen address.
	DefaultServerAddress = ":8080"

	// DefaultRetentionInterval is how often old run records are pruned when
	// a retention period is configured.
	DefaultRetentionInterval = time.Hour
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this also cleans the path.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Database  *DatabaseConfig   `yaml:"database"`
	Worker    *WorkerConfig     `yaml:"worker,omitempty"`
	Locks     *LocksConfig      `yaml:"locks,omitempty"`
	Pause     *PauseConfig      `yaml:"pause,omitempty"`
	Server    *ServerConfig     `yaml:"server,omitempty"`
	Retention *RetentionConfig  `yaml:"retention,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of connections kept in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// WorkerConfig holds settings for the worker loops.
type WorkerConfig struct {
	// ProfileID is the browser profile this worker drives
	ProfileID string `yaml:"profileId"`

	// BatchID tags every run record produced by this worker
	BatchID string `yaml:"batchId,omitempty"`

	// SourceDir is the directory scanned for image files in file mode
	SourceDir string `yaml:"sourceDir,omitempty"`

	// Include are glob patterns a file name must match; empty means all
	Include []string `yaml:"include,omitempty"`

	// Exclude are glob patterns that reject a file name
	Exclude []string `yaml:"exclude,omitempty"`

	// PollInterval is how long an idle worker sleeps (e.g., "5s")
	PollInterval string `yaml:"pollInterval,omitempty"`

	// ExecutionTimeout bounds a single executor run (e.g., "10m")
	ExecutionTimeout string `yaml:"executionTimeout,omitempty"`

	// Command is the executor command line; the unit path is appended
	Command []string `yaml:"command"`
}

// LocksConfig holds lock sweeping settings.
type LocksConfig struct {
	StalenessThreshold string `yaml:"stalenessThreshold,omitempty"`
	SweepInterval      string `yaml:"sweepInterval,omitempty"`
}

// PauseConfig holds rate-limit pause settings.
type PauseConfig struct {
	Buffer         string `yaml:"buffer,omitempty"`
	Fallback       string `yaml:"fallback,omitempty"`
	ResumeInterval string `yaml:"resumeInterval,omitempty"`
}

// RetentionConfig controls pruning of run history. Records are kept
// forever unless RunRecords is set.
type RetentionConfig struct {
	RunRecords string `yaml:"runRecords,omitempty"`
	Interval   string `yaml:"interval,omitempty"`
}

// ServerConfig holds admin API settings.
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from the OCR_COORD_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", PasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

// GetConnMaxLifetime returns the parsed connection lifetime, or zero when unset.
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return parseDurationOr(d.ConnMaxLifetime, 0)
}

// GetPollInterval returns the idle poll interval.
func (w *WorkerConfig) GetPollInterval() time.Duration {
	if w == nil {
		return DefaultPollInterval
	}
	return parseDurationOr(w.PollInterval, DefaultPollInterval)
}

// GetExecutionTimeout returns the executor timeout.
func (w *WorkerConfig) GetExecutionTimeout() time.Duration {
	if w == nil {
		return DefaultExecutionTimeout
	}
	return parseDurationOr(w.ExecutionTimeout, DefaultExecutionTimeout)
}

// GetStalenessThreshold returns the lock staleness threshold.
func (l *LocksConfig) GetStalenessThreshold() time.Duration {
	if l == nil {
		return DefaultStalenessThreshold
	}
	return parseDurationOr(l.StalenessThreshold, DefaultStalenessThreshold)
}

// GetSweepInterval returns the lock sweep interval.
func (l *LocksConfig) GetSweepInterval() time.Duration {
	if l == nil {
		return DefaultSweepInterval
	}
	return parseDurationOr(l.SweepInterval, DefaultSweepInterval)
}

// GetBuffer returns the duration added to a provider reset time.
func (p *PauseConfig) GetBuffer() time.Duration {
	if p == nil {
		return DefaultPauseBuffer
	}
	return parseDurationOr(p.Buffer, DefaultPauseBuffer)
}

// GetFallback returns the pause applied when no reset time is known.
// Values below MinFallbackPause are raised to it.
func (p *PauseConfig) GetFallback() time.Duration {
	d := DefaultFallbackPause
	if p != nil {
		d = parseDurationOr(p.Fallback, DefaultFallbackPause)
	}
	return max(d, MinFallbackPause)
}

// GetResumeInterval returns how often expired pauses are cleared.
func (p *PauseConfig) GetResumeInterval() time.Duration {
	if p == nil {
		return DefaultResumeInterval
	}
	return parseDurationOr(p.ResumeInterval, DefaultResumeInterval)
}

// GetRunRecords returns how long run records are kept, or zero to keep them.
func (r *RetentionConfig) GetRunRecords() time.Duration {
	if r == nil {
		return 0
	}
	return parseDurationOr(r.RunRecords, 0)
}

// GetInterval returns how often the retention pass runs.
func (r *RetentionConfig) GetInterval() time.Duration {
	if r == nil {
		return DefaultRetentionInterval
	}
	return parseDurationOr(r.Interval, DefaultRetentionInterval)
}

// GetAddress returns the admin API listen address.
func (s *ServerConfig) GetAddress() string {
	if s == nil || s.Address == "" {
		return DefaultServerAddress
	}
	return s.Address
}

// parseDurationOr parses s, returning def when s is empty. Invalid values are
// rejected by validate, so they also fall back to def here.
func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	var errs []error
	errs = append(errs, c.Database.validate())
	if c.Worker != nil {
		errs = append(errs, c.Worker.validate())
	}
	if c.Locks != nil {
		errs = append(errs,
			validateDuration("locks.stalenessThreshold", c.Locks.StalenessThreshold),
			validateDuration("locks.sweepInterval", c.Locks.SweepInterval),
		)
	}
	if c.Pause != nil {
		errs = append(errs,
			validateDuration("pause.buffer", c.Pause.Buffer),
			validateDuration("pause.fallback", c.Pause.Fallback),
			validateDuration("pause.resumeInterval", c.Pause.ResumeInterval),
		)
	}
	if c.Retention != nil {
		errs = append(errs,
			validateDuration("retention.runRecords", c.Retention.RunRecords),
			validateDuration("retention.interval", c.Retention.Interval),
		)
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (d *DatabaseConfig) validate() error {
	switch {
	case d.Host == "":
		return fmt.Errorf("database.host is required")
	case d.Port == 0:
		return fmt.Errorf("database.port is required")
	case d.User == "":
		return fmt.Errorf("database.user is required")
	case d.Database == "":
		return fmt.Errorf("database.database is required")
	}
	return validateDuration("database.connMaxLifetime", d.ConnMaxLifetime)
}

func (w *WorkerConfig) validate() error {
	if w.ProfileID == "" {
		return fmt.Errorf("worker.profileId is required")
	}
	if len(w.Command) == 0 {
		return fmt.Errorf("worker.command is required")
	}
	return errors.Join(
		validateDuration("worker.pollInterval", w.PollInterval),
		validateDuration("worker.executionTimeout", w.ExecutionTimeout),
	)
}

// validateDuration accepts an empty value or a positive Go duration string.
func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '5m'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}
