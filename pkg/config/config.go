package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/ring"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the flashring configuration
type Config struct {
	Device   Device   `yaml:"device"`
	Regions  Regions  `yaml:"regions"`
	Retry    Retry    `yaml:"retry"`
	Pipeline Pipeline `yaml:"pipeline"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

// Device describes the emulated flash part and where its image lives
type Device struct {
	Path       string `yaml:"path"`
	Size       uint32 `yaml:"size"`
	PageSize   int    `yaml:"page_size"`
	SectorSize int    `yaml:"sector_size"`
	Sync       bool   `yaml:"sync"`
}

// Geometry returns the device layout.
func (d Device) Geometry() blockdev.Geometry {
	return blockdev.Geometry{Size: d.Size, PageSize: d.PageSize, SectorSize: d.SectorSize}
}

// Regions holds the two rings sharing the device
type Regions struct {
	Samples ring.Region `yaml:"samples"`
	Events  ring.Region `yaml:"events"`
}

// Retry contains the flash retry and verification settings
type Retry struct {
	EraseAttempts int           `yaml:"erase_attempts"`
	WriteAttempts int           `yaml:"write_attempts"`
	Delay         time.Duration `yaml:"delay"`
	VerifyWrites  bool          `yaml:"verify_writes"`
	VerifyErase   bool          `yaml:"verify_erase"`
}

// Options returns ring options carrying the retry settings.
func (r Retry) Options() ring.Options {
	return ring.Options{
		EraseAttempts: r.EraseAttempts,
		WriteAttempts: r.WriteAttempts,
		RetryDelay:    r.Delay,
		VerifyWrites:  r.VerifyWrites,
		VerifyErase:   r.VerifyErase,
	}
}

// Pipeline contains the task settings
type Pipeline struct {
	InboxSize        int           `yaml:"inbox_size"`
	BatchSize        int           `yaml:"batch_size"`
	SampleInterval   time.Duration `yaml:"sample_interval"`
	TransmitInterval time.Duration `yaml:"transmit_interval"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
	HoldingSize      int           `yaml:"holding_size"`
}

// Server contains the diagnostics HTTP server settings
type Server struct {
	Bind   string `yaml:"bind"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // Required for maintenance routes when set
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Device: Device{
			Path:       "./flash",
			Size:       blockdev.DefaultSize,
			PageSize:   blockdev.DefaultPageSize,
			SectorSize: blockdev.DefaultSectorSize,
		},
		Regions: Regions{
			Samples: ring.Region{
				Name:                  "samples",
				BaseAddress:           0x1000,
				PageSize:              blockdev.DefaultPageSize,
				PagesPerSector:        16,
				PageCount:             3888,
				OverlapGuardPages:     288,
				WarningThresholdPages: 432,
			},
			Events: ring.Region{
				Name:              "events",
				BaseAddress:       0x200000,
				PageSize:          blockdev.DefaultPageSize,
				PagesPerSector:    16,
				PageCount:         22000,
				OverlapGuardPages: 16,
			},
		},
		Retry: Retry{
			EraseAttempts: ring.DefaultEraseAttempts,
			WriteAttempts: ring.DefaultWriteAttempts,
			Delay:         ring.DefaultRetryDelay,
			VerifyWrites:  true,
			VerifyErase:   true,
		},
		Pipeline: Pipeline{
			InboxSize:        32,
			BatchSize:        16,
			SampleInterval:   100 * time.Millisecond,
			TransmitInterval: 5 * time.Second,
			FlushInterval:    time.Second,
			HoldingSize:      64,
		},
		Server: Server{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for geometry and range errors.
func (c *Config) Validate() error {
	geometry := c.Device.Geometry()
	if err := geometry.Validate(); err != nil {
		return errors.Mark(errors.Wrap(err, "device"), ErrInvalidConfig)
	}

	for _, region := range []ring.Region{c.Regions.Samples, c.Regions.Events} {
		if err := region.Validate(); err != nil {
			return errors.Mark(err, ErrInvalidConfig)
		}
		if err := region.Fits(geometry); err != nil {
			return errors.Mark(err, ErrInvalidConfig)
		}
	}
	if c.Regions.Samples.Name == c.Regions.Events.Name {
		return errors.Wrapf(ErrInvalidConfig, "regions share the name %q", c.Regions.Samples.Name)
	}
	if c.Regions.Samples.Overlaps(c.Regions.Events) {
		return errors.Wrap(ErrInvalidConfig, "sample and event regions overlap")
	}

	switch {
	case c.Pipeline.InboxSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "pipeline.inbox_size %d", c.Pipeline.InboxSize)
	case c.Pipeline.BatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "pipeline.batch_size %d", c.Pipeline.BatchSize)
	case c.Pipeline.HoldingSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "pipeline.holding_size %d", c.Pipeline.HoldingSize)
	case c.Pipeline.SampleInterval <= 0, c.Pipeline.TransmitInterval <= 0, c.Pipeline.FlushInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "pipeline intervals must be positive")
	case c.Retry.EraseAttempts < 0, c.Retry.WriteAttempts < 0, c.Retry.Delay < 0:
		return errors.Wrap(ErrInvalidConfig, "retry settings must not be negative")
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return errors.Wrapf(ErrInvalidConfig, "server.port %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(ErrInvalidConfig, "logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.Wrapf(ErrInvalidConfig, "logging.format %q", c.Logging.Format)
	}
	return nil
}

// LoadConfig loads configuration from the specified path. Settings missing
// from the file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errors.Newf("config file does not exist: %s", configPath)
	}

	// Validate path to prevent directory traversal
	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "invalid config path")
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path
func SaveConfig(config *Config, configPath string) error {
	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./flashring.yaml"
	}

	// For Linux/macOS, use ~/.config/flashring/config.yaml
	return filepath.Join(homeDir, ".config", "flashring", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
