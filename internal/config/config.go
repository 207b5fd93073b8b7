package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cwbudde/clblur/internal/device"
	"github.com/cwbudde/clblur/internal/fault"
	"github.com/cwbudde/clblur/internal/pipeline"
)

// Config represents the application configuration
type Config struct {
	Kernel  KernelConfig  `mapstructure:"kernel" yaml:"kernel"`
	Device  DeviceConfig  `mapstructure:"device" yaml:"device"`
	Images  ImagesConfig  `mapstructure:"images" yaml:"images"`
	Runs    RunsConfig    `mapstructure:"runs" yaml:"runs"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type KernelConfig struct {
	Path           string `mapstructure:"path" yaml:"path"`
	Entry          string `mapstructure:"entry" yaml:"entry"`
	MaxSourceBytes int    `mapstructure:"max_source_bytes" yaml:"max_source_bytes"`
}

type DeviceConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	Class       string `mapstructure:"class" yaml:"class"`
	MaxWorkSize int    `mapstructure:"max_work_size" yaml:"max_work_size"`
}

type ImagesConfig struct {
	InputDir      string `mapstructure:"input_dir" yaml:"input_dir"`
	InputPattern  string `mapstructure:"input_pattern" yaml:"input_pattern"`
	OutputDir     string `mapstructure:"output_dir" yaml:"output_dir"`
	OutputPattern string `mapstructure:"output_pattern" yaml:"output_pattern"`
}

type RunsConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	Record  bool   `mapstructure:"record" yaml:"record"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// EnvPrefix prefixes environment overrides, e.g. CLBLUR_DEVICE_CLASS.
const EnvPrefix = "CLBLUR"

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			Path:           "kernels/blur.cl",
			Entry:          "blur",
			MaxSourceBytes: pipeline.DefaultMaxSourceBytes,
		},
		Device: DeviceConfig{
			Driver: device.DriverAuto,
			Class:  "default",
		},
		Images: ImagesConfig{
			InputDir:      "images",
			InputPattern:  "image%d.pgm",
			OutputDir:     "images_output",
			OutputPattern: "image%d_blurred.pgm",
		},
		Runs: RunsConfig{
			DataDir: "./data",
			Record:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"kernel":     "kernel.path",
	"entry":      "kernel.entry",
	"driver":     "device.driver",
	"device":     "device.class",
	"data-dir":   "runs.data_dir",
	"log-level":  "logging.level",
	"log-format": "logging.format",
}

// Load loads configuration from defaults, an optional YAML file, CLBLUR_*
// environment variables and the given flags, in increasing precedence.
// Flags missing from the set are skipped.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, fault.New(fault.ConfigInvalid, "reading config", err)
		}
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".clblur"))
		}
		v.SetConfigType("yaml")
		v.SetConfigName("clblur")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fault.New(fault.ConfigInvalid, "bind flag "+name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fault.New(fault.ConfigInvalid, "reading config", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fault.New(fault.ConfigInvalid, "unmarshaling config", err)
	}

	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	validDrivers = []string{device.DriverAuto, device.DriverOpenCL, device.DriverHost}
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "text"}
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fault.Newf(fault.ConfigInvalid, "validating config", format, args...)
	}

	if c.Kernel.Path == "" {
		return invalid("kernel.path must be set")
	}
	if c.Kernel.Entry == "" {
		return invalid("kernel.entry must be set")
	}
	if c.Kernel.MaxSourceBytes <= 0 {
		return invalid("kernel.max_source_bytes must be positive")
	}
	if !slices.Contains(validDrivers, c.Device.Driver) {
		return invalid("device.driver must be one of: %v", validDrivers)
	}
	if _, err := c.DeviceClass(); err != nil {
		return invalid("device.class: %v", err)
	}
	if c.Device.MaxWorkSize < 0 {
		return invalid("device.max_work_size must not be negative")
	}
	if strings.Count(c.Images.InputPattern, "%d") != 1 {
		return invalid("images.input_pattern must contain exactly one %%d")
	}
	if strings.Count(c.Images.OutputPattern, "%d") != 1 {
		return invalid("images.output_pattern must contain exactly one %%d")
	}
	if c.Runs.Record && c.Runs.DataDir == "" {
		return invalid("runs.data_dir must be set when runs.record is enabled")
	}
	if !slices.Contains(validLevels, c.Logging.Level) {
		return invalid("logging.level must be one of: %v", validLevels)
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return invalid("logging.format must be one of: %v", validFormats)
	}
	return nil
}

// DeviceClass parses Device.Class.
func (c *Config) DeviceClass() (device.DeviceType, error) {
	return device.ParseDeviceType(c.Device.Class)
}

// InputPath returns the input image path for index.
func (c *Config) InputPath(index int) string {
	return filepath.Join(c.Images.InputDir, fmt.Sprintf(c.Images.InputPattern, index))
}

// OutputPath returns the output image path for index.
func (c *Config) OutputPath(index int) string {
	return filepath.Join(c.Images.OutputDir, fmt.Sprintf(c.Images.OutputPattern, index))
}

// ExpandPaths expands ~ and environment variables in paths
func (c *Config) ExpandPaths() {
	c.Kernel.Path = expandPath(c.Kernel.Path)
	c.Images.InputDir = expandPath(c.Images.InputDir)
	c.Images.OutputDir = expandPath(c.Images.OutputDir)
	c.Runs.DataDir = expandPath(c.Runs.DataDir)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("kernel.path", cfg.Kernel.Path)
	v.SetDefault("kernel.entry", cfg.Kernel.Entry)
	v.SetDefault("kernel.max_source_bytes", cfg.Kernel.MaxSourceBytes)

	v.SetDefault("device.driver", cfg.Device.Driver)
	v.SetDefault("device.class", cfg.Device.Class)
	v.SetDefault("device.max_work_size", cfg.Device.MaxWorkSize)

	v.SetDefault("images.input_dir", cfg.Images.InputDir)
	v.SetDefault("images.input_pattern", cfg.Images.InputPattern)
	v.SetDefault("images.output_dir", cfg.Images.OutputDir)
	v.SetDefault("images.output_pattern", cfg.Images.OutputPattern)

	v.SetDefault("runs.data_dir", cfg.Runs.DataDir)
	v.SetDefault("runs.record", cfg.Runs.Record)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}
