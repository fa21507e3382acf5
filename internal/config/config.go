package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/jgarman/ds2img/internal/diskbuilder"
)

// EnvPrefix prefixes environment overrides, e.g. DS2IMG_BUILD_WORK_DIR.
const EnvPrefix = "DS2IMG"

// gptNameLength is the number of UTF-16 code units a GPT entry name holds.
const gptNameLength = 36

// Config represents the application configuration
type Config struct {
	// Disk-wide settings
	Disk DiskConfig `mapstructure:"disk"`

	// Partitions in disk order
	Partitions []PartitionConfig `mapstructure:"partition"`

	// Build pipeline settings
	Build BuildConfig `mapstructure:"build"`

	// Logging settings
	Log LogConfig `mapstructure:"log"`

	// HTTP build service settings
	Server ServerConfig `mapstructure:"server"`
}

// DiskConfig contains disk image settings
type DiskConfig struct {
	// Minimum image size in bytes; 0 sizes the image to its partitions.
	Size uint64 `mapstructure:"size"`
}

// PartitionConfig describes one partition
type PartitionConfig struct {
	Name   string `mapstructure:"name"`
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`

	// Explicit size in bytes, bypassing estimation
	Size uint64 `mapstructure:"size"`

	// GPT partition type GUID; defaults to the EFI system partition type
	Type string `mapstructure:"type"`
}

// BuildConfig contains pipeline settings
type BuildConfig struct {
	// Directory for intermediate partition images
	WorkDir string `mapstructure:"work_dir"`

	// Concurrent partition builds; 0 builds every partition at once
	Parallelism int `mapstructure:"parallelism"`

	// "skip" or "fail" for entries that cannot be read while estimating
	UnreadableEntries string `mapstructure:"unreadable_entries"`

	// "saturate" or "reject" when the protective MBR cannot describe the disk
	MBROverflow string `mapstructure:"mbr_overflow"`

	// mke2fs executable and the time a single run may take
	Ext4Tool    string        `mapstructure:"ext4_tool"`
	Ext4Timeout time.Duration `mapstructure:"ext4_timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Timeout settings in seconds
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	IdleTimeout  int `mapstructure:"idle_timeout"`

	// CORS settings
	CORS CORSConfig `mapstructure:"cors"`

	// Announce the service over mDNS (Avahi) under ServiceName
	Announce    bool   `mapstructure:"announce"`
	ServiceName string `mapstructure:"service_name"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			UnreadableEntries: "skip",
			MBROverflow:       "saturate",
			Ext4Tool:          "mke2fs",
			Ext4Timeout:       diskbuilder.DefaultMke2fsTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 900,
			IdleTimeout:  60,
			CORS: CORSConfig{
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"*"},
				AllowCredentials: false,
			},
			Announce:    false,
			ServiceName: "ds2img",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("disk.size", d.Disk.Size)
	v.SetDefault("build.work_dir", d.Build.WorkDir)
	v.SetDefault("build.parallelism", d.Build.Parallelism)
	v.SetDefault("build.unreadable_entries", d.Build.UnreadableEntries)
	v.SetDefault("build.mbr_overflow", d.Build.MBROverflow)
	v.SetDefault("build.ext4_tool", d.Build.Ext4Tool)
	v.SetDefault("build.ext4_timeout", d.Build.Ext4Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.cors.allowed_origins", d.Server.CORS.AllowedOrigins)
	v.SetDefault("server.cors.allowed_methods", d.Server.CORS.AllowedMethods)
	v.SetDefault("server.cors.allowed_headers", d.Server.CORS.AllowedHeaders)
	v.SetDefault("server.cors.allow_credentials", d.Server.CORS.AllowCredentials)
	v.SetDefault("server.announce", d.Server.Announce)
	v.SetDefault("server.service_name", d.Server.ServiceName)
}

// Load loads configuration from a TOML (or YAML/JSON, by extension) file.
// If the file doesn't exist, it returns the default configuration with
// environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if filepath.Ext(path) == "" {
				v.SetConfigType("toml")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("%w: failed to read config file: %w", diskbuilder.ErrConfig, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: failed to stat config file: %w", diskbuilder.ErrConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %w", diskbuilder.ErrConfig, err)
	}

	// Relative partition paths are relative to the config file.
	if path != "" {
		base := filepath.Dir(path)
		for i := range cfg.Partitions {
			p := cfg.Partitions[i].Path
			if p != "" && !filepath.IsAbs(p) {
				cfg.Partitions[i].Path = filepath.Join(base, p)
			}
		}
	}

	return cfg, nil
}

// buildResponseMargin is how long a build response may take to write after
// the slowest ext4 run.
const buildResponseMargin = 5 * time.Minute

// HTTPWriteTimeout is the server write deadline: the configured value, raised
// so a build that runs up to the ext4 timeout can still answer.
func (c *Config) HTTPWriteTimeout() time.Duration {
	configured := time.Duration(c.Server.WriteTimeout) * time.Second
	return max(configured, c.Build.Ext4Timeout+buildResponseMargin)
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var problems []error

	if len(c.Partitions) == 0 {
		problems = append(problems, errors.New("no partitions configured"))
	}
	if len(c.Partitions) > diskbuilder.MaxPartitions {
		problems = append(problems, fmt.Errorf("%d partitions configured, at most %d allowed",
			len(c.Partitions), diskbuilder.MaxPartitions))
	}
	for i, p := range c.Partitions {
		if err := p.validate(); err != nil {
			problems = append(problems, fmt.Errorf("partition %d: %w", i, err))
		}
	}

	if c.Disk.Size%diskbuilder.SectorSize != 0 {
		problems = append(problems, fmt.Errorf("disk size %d is not a multiple of %d", c.Disk.Size, diskbuilder.SectorSize))
	}
	if c.Build.Parallelism < 0 {
		problems = append(problems, fmt.Errorf("build parallelism %d is negative", c.Build.Parallelism))
	}
	if _, err := diskbuilder.ParseUnreadablePolicy(c.Build.UnreadableEntries); err != nil {
		problems = append(problems, err)
	}
	if _, err := diskbuilder.ParseMBROverflowPolicy(c.Build.MBROverflow); err != nil {
		problems = append(problems, err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Errorf("log format %q is not text or json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", diskbuilder.ErrConfig, errors.Join(problems...))
	}
	return nil
}

func (p PartitionConfig) validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if n := len(utf16.Encode([]rune(p.Name))); n > gptNameLength {
		return fmt.Errorf("name %q is %d UTF-16 units, at most %d allowed", p.Name, n, gptNameLength)
	}
	if p.Path == "" {
		return fmt.Errorf("%q: path is required", p.Name)
	}
	if _, err := diskbuilder.ParseFilesystemType(p.Format); err != nil {
		return fmt.Errorf("%q: %w", p.Name, err)
	}
	if p.Size%diskbuilder.SectorSize != 0 {
		return fmt.Errorf("%q: size %d is not a multiple of %d", p.Name, p.Size, diskbuilder.SectorSize)
	}
	if p.Type != "" {
		if _, err := uuid.Parse(p.Type); err != nil {
			return fmt.Errorf("%q: partition type %q: %w", p.Name, p.Type, err)
		}
	}
	return nil
}

// PartitionSpecs converts the partition list into build specs, in order.
func (c *Config) PartitionSpecs() ([]diskbuilder.PartitionSpec, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	specs := make([]diskbuilder.PartitionSpec, len(c.Partitions))
	for i, p := range c.Partitions {
		fsType, _ := diskbuilder.ParseFilesystemType(p.Format)
		specs[i] = diskbuilder.PartitionSpec{
			Name:         p.Name,
			SourcePath:   p.Path,
			Filesystem:   fsType,
			SizeOverride: p.Size,
			TypeGUID:     gpt.Type(strings.ToUpper(p.Type)),
		}
	}
	return specs, nil
}

// Pipeline wires the build pipeline described by the configuration.
func (c *Config) Pipeline() (*diskbuilder.Pipeline, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	unreadable, _ := diskbuilder.ParseUnreadablePolicy(c.Build.UnreadableEntries)
	overflow, _ := diskbuilder.ParseMBROverflowPolicy(c.Build.MBROverflow)

	return &diskbuilder.Pipeline{
		Estimator: diskbuilder.NewEstimator(unreadable),
		Builder: diskbuilder.NewBuilder(c.Build.WorkDir, &diskbuilder.Mke2fs{
			Binary:  c.Build.Ext4Tool,
			Timeout: c.Build.Ext4Timeout,
		}),
		Assembler: &diskbuilder.Assembler{
			MBROverflow: overflow,
			MinDiskSize: c.Disk.Size,
		},
		Parallelism: c.Build.Parallelism,
	}, nil
}
