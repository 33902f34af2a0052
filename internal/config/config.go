package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Scan   ScanConfig   `yaml:"scan"`
	Filter FilterConfig `yaml:"filter"`
	Output OutputConfig `yaml:"output"`
	Store  StoreConfig  `yaml:"store"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Server ServerConfig `yaml:"server"`
}

// ScanConfig holds archive layout and classfile settings
type ScanConfig struct {
	ClassesRoot      string `yaml:"classes_root"`
	ClasspathIndex   string `yaml:"classpath_index"`
	MarkerDescriptor string `yaml:"marker_descriptor"`
	MaxEntrySize     string `yaml:"max_entry_size"`
}

// FilterConfig selects which classes are parsed. Pattern and Script/ScriptFile
// are mutually exclusive; none of them means every class is parsed.
type FilterConfig struct {
	Pattern    string `yaml:"pattern"`
	Script     string `yaml:"script"`
	ScriptFile string `yaml:"script_file"`
}

// OutputConfig holds report rendering settings
type OutputConfig struct {
	Format      string `yaml:"format"`
	Compression string `yaml:"compression"`
}

// StoreConfig holds scan history settings
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// FetchConfig holds settings for scanning remote archives
type FetchConfig struct {
	CacheDir      string `yaml:"cache_dir"`
	RetryAttempts int    `yaml:"retry_attempts"`
	Timeout       string `yaml:"timeout"`
}

// ServerConfig holds settings for the scan history API
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	MaxUploadSize string `yaml:"max_upload_size"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Scan: ScanConfig{
			ClassesRoot:      "BOOT-INF/classes/",
			ClasspathIndex:   "BOOT-INF/classpath.idx",
			MarkerDescriptor: "Lorg/apache/avro/specific/AvroGenerated;",
			MaxEntrySize:     "512MB",
		},
		Output: OutputConfig{
			Format:      "json",
			Compression: "none",
		},
		Store: StoreConfig{
			Enabled: false,
			DBPath:  filepath.Join(dataDir, "jarenums.db"),
		},
		Fetch: FetchConfig{
			CacheDir:      filepath.Join(dataDir, "cache"),
			RetryAttempts: 3,
			Timeout:       "5m",
		},
		Server: ServerConfig{
			Listen:        "127.0.0.1:8080",
			MaxUploadSize: "256MB",
		},
	}
}

// DefaultDataDir returns the per-user directory for the database and cache.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "jarenums")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "jarenums")
	}
	return ".jarenums"
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"jarenums.yaml",
		"/etc/jarenums/jarenums.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "jarenums", "jarenums.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks values that would otherwise fail halfway through a scan
func (c *Config) Validate() error {
	if c.Filter.Pattern != "" && (c.Filter.Script != "" || c.Filter.ScriptFile != "") {
		return fmt.Errorf("filter.pattern and filter.script are mutually exclusive")
	}
	if c.Filter.Script != "" && c.Filter.ScriptFile != "" {
		return fmt.Errorf("filter.script and filter.script_file are mutually exclusive")
	}
	if c.Scan.MarkerDescriptor != "" && !isObjectDescriptor(c.Scan.MarkerDescriptor) {
		return fmt.Errorf("scan.marker_descriptor %q is not an object descriptor (Lpkg/Name;)", c.Scan.MarkerDescriptor)
	}
	if _, err := c.MaxEntryBytes(); err != nil {
		return err
	}
	if _, err := c.FetchTimeout(); err != nil {
		return err
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "json", "yaml", "yml":
	default:
		return fmt.Errorf("output.format %q is not one of json, yaml", c.Output.Format)
	}
	switch strings.ToLower(c.Output.Compression) {
	case "", "none", "zstd", "zst", "xz":
	default:
		return fmt.Errorf("output.compression %q is not one of none, zstd, xz", c.Output.Compression)
	}
	if c.Fetch.RetryAttempts < 0 {
		return fmt.Errorf("fetch.retry_attempts must not be negative")
	}
	return nil
}

// MaxEntryBytes returns the archive entry size limit in bytes. Sizes use
// go-humanize notation: "512MB" is decimal, "512MiB" binary.
func (c *Config) MaxEntryBytes() (int64, error) {
	if c.Scan.MaxEntrySize == "" {
		return 0, fmt.Errorf("scan.max_entry_size is empty")
	}
	n, err := humanize.ParseBytes(c.Scan.MaxEntrySize)
	if err != nil {
		return 0, fmt.Errorf("invalid scan.max_entry_size %q: %w", c.Scan.MaxEntrySize, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("scan.max_entry_size %q out of range", c.Scan.MaxEntrySize)
	}
	return int64(n), nil
}

// MaxUploadBytes returns the largest archive the API accepts for scanning.
func (c *Config) MaxUploadBytes() (int64, error) {
	if c.Server.MaxUploadSize == "" {
		return 0, fmt.Errorf("server.max_upload_size is empty")
	}
	n, err := humanize.ParseBytes(c.Server.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid server.max_upload_size %q: %w", c.Server.MaxUploadSize, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("server.max_upload_size %q out of range", c.Server.MaxUploadSize)
	}
	return int64(n), nil
}

// FetchTimeout returns the per-download timeout. Zero means no timeout.
func (c *Config) FetchTimeout() (time.Duration, error) {
	if c.Fetch.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Fetch.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid fetch.timeout %q: %w", c.Fetch.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("fetch.timeout must not be negative")
	}
	return d, nil
}

// FilterScript returns the inline script or the contents of script_file.
func (c *Config) FilterScript() (string, error) {
	if c.Filter.ScriptFile == "" {
		return c.Filter.Script, nil
	}
	data, err := os.ReadFile(c.Filter.ScriptFile)
	if err != nil {
		return "", fmt.Errorf("reading filter script: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func isObjectDescriptor(s string) bool {
	return len(s) > 2 && s[0] == 'L' && s[len(s)-1] == ';'
}
