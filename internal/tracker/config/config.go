// Package config loads and validates the daemon configuration from a TOML
// file. Configuration is process-wide; guild-level settings (rates, caps,
// prices) live in the database.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
)

// supportedFormat is the accepted range of configuration file format versions.
const supportedFormat = ">= 1.0.0, < 2.0.0"

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// TrackerConfig holds tracking loop timings.
type TrackerConfig struct {
	ScanInterval  string `toml:"scan_interval" validate:"required"`  // accrual scanner tick
	ScanCeiling   string `toml:"scan_ceiling" validate:"required"`   // discard intervals above this (outage guard)
	SweepInterval string `toml:"sweep_interval" validate:"required"` // slot activation sweep tick
	MinLead       string `toml:"min_lead" validate:"required"`       // minimum booking lead time
	FlushInterval string `toml:"flush_interval" validate:"required"` // ledger write-back period
}

// GetScanInterval returns the accrual scan tick as time.Duration.
func (t *TrackerConfig) GetScanInterval() time.Duration { return mustDuration(t.ScanInterval) }

// GetScanCeiling returns the stale-interval ceiling as time.Duration.
func (t *TrackerConfig) GetScanCeiling() time.Duration { return mustDuration(t.ScanCeiling) }

// GetSweepInterval returns the activation sweep tick as time.Duration.
func (t *TrackerConfig) GetSweepInterval() time.Duration { return mustDuration(t.SweepInterval) }

// GetMinLead returns the minimum booking lead time as time.Duration.
func (t *TrackerConfig) GetMinLead() time.Duration { return mustDuration(t.MinLead) }

// GetFlushInterval returns the ledger flush period as time.Duration.
func (t *TrackerConfig) GetFlushInterval() time.Duration { return mustDuration(t.FlushInterval) }

// DBConfig holds database connection settings.
type DBConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"required"`
	DBName   string `toml:"dbname" validate:"required"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	SSLMode  string `toml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.DBName, d.User, d.Password, sslmode)
}

// ConfigParam holds all configuration parameters for the tracker daemon.
type ConfigParam struct {
	FormatVersion string `toml:"format_version" validate:"required"`

	// Status server
	ServerHostName string `toml:"server_hostname"`
	StatusPort     string `toml:"status_port" validate:"required"`
	HandleCORS     bool   `toml:"handle_cors"`

	Logging LoggingConfig `toml:"logging"`
	Tracker TrackerConfig `toml:"tracker"`
	DB      DBConfig      `toml:"db" validate:"required"`
}

var cfg *ConfigParam

// Config returns the loaded configuration. Panics if LoadConfig has not run.
func Config() *ConfigParam {
	if cfg == nil {
		panic("config accessed before LoadConfig")
	}
	return cfg
}

// LoadConfig reads, parses, and validates the configuration file.
func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	c := &ConfigParam{}
	applyDefaults(c)
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if err := validateConfig(c); err != nil {
		return err
	}

	cfg = c
	return nil
}

func validateConfig(c *ConfigParam) error {
	version, err := semver.NewVersion(c.FormatVersion)
	if err != nil {
		return fmt.Errorf("invalid format_version %q: %w", c.FormatVersion, err)
	}
	constraint, err := semver.NewConstraint(supportedFormat)
	if err != nil {
		return fmt.Errorf("invalid format constraint: %w", err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("unsupported config format version %q (want %s)", c.FormatVersion, supportedFormat)
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	for _, d := range []string{
		c.Tracker.ScanInterval, c.Tracker.ScanCeiling, c.Tracker.SweepInterval,
		c.Tracker.MinLead, c.Tracker.FlushInterval,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}
	return nil
}

func applyDefaults(c *ConfigParam) {
	c.FormatVersion = "1.0.0"
	c.StatusPort = "8197"
	c.Logging.Level = "info"
	c.Tracker = TrackerConfig{
		ScanInterval:  "5s",
		ScanCeiling:   "20m",
		SweepInterval: "30s",
		MinLead:       "11m",
		FlushInterval: "60s",
	}
	c.DB.SSLMode = "disable"
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q: %v", s, err))
	}
	return d
}

// TestInit loads a baseline configuration for tests.
func TestInit() {
	c := &ConfigParam{}
	applyDefaults(c)
	c.DB = DBConfig{
		Host:   "localhost",
		Port:   5432,
		DBName: "focusguild_test",
		User:   "focusguild",
	}
	cfg = c
}
