package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jbweber/homelab/uplink/internal/asid"
	"github.com/jbweber/homelab/uplink/internal/attachment"
	"github.com/jbweber/homelab/uplink/internal/datastore"
)

// Config holds all configuration for the uplink service
type Config struct {
	DBPath    string `toml:"db_path"`
	Port      string `toml:"port"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // text or json

	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string `toml:"cors_origins"`

	MaxIfacesPerRouter int      `toml:"max_ifaces_per_router"`
	DeploymentPeriod   Duration `toml:"deployment_period"` // minimum time between deployments of a host
	UserASIDBegin      string   `toml:"user_as_id_begin"`
	UserASIDEnd        string   `toml:"user_as_id_end"`
	MaxASPerUser       int      `toml:"max_as_per_user"`
	AllowPrivateIPs    bool     `toml:"allow_private_ips"`
	TxRetries          int      `toml:"tx_retries"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DBPath:             "~/uplink/data/uplink.db",
		Port:               "8080",
		LogLevel:           "info",
		LogFormat:          "text",
		MaxIfacesPerRouter: attachment.DefaultMaxIfacesPerRouter,
		DeploymentPeriod:   Duration{time.Minute},
		UserASIDBegin:      "ffaa:1:1",
		UserASIDEnd:        "ffaa:1:ffff",
		MaxASPerUser:       5,
		TxRetries:          3,
	}
}

// Load reads a TOML file over the defaults. Keys the file does not set keep their default.
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	f, err := os.Open(cfg.expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown config keys:\n%s", strict.String())
		}
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values of the configuration
func (c *Config) Validate() error {
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.MaxIfacesPerRouter < 1 {
		return fmt.Errorf("max_ifaces_per_router must be positive, got %d", c.MaxIfacesPerRouter)
	}
	if c.DeploymentPeriod.Duration < 0 {
		return fmt.Errorf("deployment_period must not be negative, got %s", c.DeploymentPeriod)
	}
	if c.MaxASPerUser < 0 {
		return fmt.Errorf("max_as_per_user must not be negative, got %d", c.MaxASPerUser)
	}
	if c.TxRetries < 0 {
		return fmt.Errorf("tx_retries must not be negative, got %d", c.TxRetries)
	}
	if _, err := c.ASIDAllocator(); err != nil {
		return fmt.Errorf("invalid UserAS ID range: %w", err)
	}
	return nil
}

// ASIDAllocator returns the allocator of the configured UserAS ID range
func (c *Config) ASIDAllocator() (*asid.Allocator, error) {
	return asid.NewAllocator(c.UserASIDBegin, c.UserASIDEnd)
}

// AttachmentConfig returns the tunables of the attachment service
func (c *Config) AttachmentConfig() attachment.Config {
	return attachment.Config{
		MaxIfacesPerRouter: c.MaxIfacesPerRouter,
		MaxASPerUser:       c.MaxASPerUser,
		AllowPrivateIPs:    c.AllowPrivateIPs,
	}
}

// InitializeDatastore opens the database, migrates it and tunes the connection pool
func (c *Config) InitializeDatastore() (*datastore.Datastore, error) {
	dbPath := c.expandPath(c.DBPath)

	// Ensure database directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	retries := c.TxRetries
	if retries == 0 {
		retries = -1
	}
	ds, err := datastore.New(dbPath, &datastore.Options{MaxRetries: retries})
	if err != nil {
		return nil, err
	}

	tunePool(ds.DB)
	if err := optimize(context.Background(), ds.DB); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Return original path if we can't get home dir
		return path
	}

	return filepath.Join(homeDir, path[2:])
}

// Duration is a time.Duration read from strings such as "30s" in TOML files and flags.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	return d.Set(string(text))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) Set(text string) error {
	v, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) String() string {
	return d.Duration.String()
}

// Type implements pflag.Value.
func (d *Duration) Type() string {
	return "duration"
}
