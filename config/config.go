package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/ephemfs"
	"github.com/brettbedarf/ephemfs/internal/util"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Bytes per KB
const KB = 1024

// CLI style verbosity where higher is chattier. Only used at the override
// boundary; [Config.LogLvl] holds the internal [util.LogLevel].
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultName        = "ephemfs"
	DefaultLogLvl      = util.InfoLevel
	DefaultPageSize    = 4 * KB
	DefaultWorkingDir  = "/"
	DefaultFilePerms   = 0o644
	DefaultDirPerms    = 0o755
	DefaultMaxChannels = 0
)

// Config contains runtime configuration values for a filesystem instance.
type Config struct {
	Name        string        // Instance name used in log lines (Default "ephemfs")
	LogLvl      util.LogLevel // Internal log level (Default info)
	PageSize    int           // Size of each sparse storage page in bytes (Default 4KB)
	WorkingDir  string        // Absolute directory relative paths resolve against (Default "/")
	FilePerms   uint32        // Permission bits for files created without explicit perms (Default 0644)
	DirPerms    uint32        // Permission bits for directories created without explicit perms (Default 0755)
	MaxChannels int           // Upper bound on simultaneously open channels; 0 means unlimited
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
//
// NOTE: LogLvl is a verbosity between 1 (error) and 5 (trace)
type ConfigOverride struct {
	Name        *string `yaml:"name,omitempty" json:"name,omitempty"`
	LogLvl      *int    `yaml:"log_lvl,omitempty" json:"log_lvl,omitempty"`
	PageSize    *int    `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	WorkingDir  *string `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	FilePerms   *uint32 `yaml:"file_perms,omitempty" json:"file_perms,omitempty"`
	DirPerms    *uint32 `yaml:"dir_perms,omitempty" json:"dir_perms,omitempty"`
	MaxChannels *int    `yaml:"max_channels,omitempty" json:"max_channels,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		Name:        DefaultName,
		LogLvl:      DefaultLogLvl,
		PageSize:    DefaultPageSize,
		WorkingDir:  DefaultWorkingDir,
		FilePerms:   DefaultFilePerms,
		DirPerms:    DefaultDirPerms,
		MaxChannels: DefaultMaxChannels,
	}
}

// NewConfig returns defaults with override merged on top. A nil override
// yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.LogLvl != nil {
		c.LogLvl = util.ParseVerbosity(*override.LogLvl)
	}
	if override.PageSize != nil {
		c.PageSize = *override.PageSize
	}
	if override.WorkingDir != nil {
		c.WorkingDir = *override.WorkingDir
	}
	if override.FilePerms != nil {
		c.FilePerms = *override.FilePerms
	}
	if override.DirPerms != nil {
		c.DirPerms = *override.DirPerms
	}
	if override.MaxChannels != nil {
		c.MaxChannels = *override.MaxChannels
	}
}

// Validate reports the first field that cannot be used to build a filesystem
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return errors.Newf("page size must be positive, got %d", c.PageSize)
	}
	if !strings.HasPrefix(c.WorkingDir, "/") {
		return errors.Wrapf(ephemfs.ErrInvalidPath, "working dir %q must be absolute", c.WorkingDir)
	}
	if c.FilePerms > 0o7777 || c.DirPerms > 0o7777 {
		return errors.Newf("perms out of range: file %o dir %o", c.FilePerms, c.DirPerms)
	}
	if c.MaxChannels < 0 {
		return errors.Newf("max channels must not be negative, got %d", c.MaxChannels)
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal config file")
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal config file")
		}
	default:
		return nil, errors.Newf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	return NewConfig(override), nil
}
