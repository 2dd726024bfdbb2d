package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Logging   LoggingConfig             `yaml:"logging"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Source    SourceConfig              `yaml:"source"`
	Storage   StorageConfig             `yaml:"storage"`
	Catalog   CatalogConfig             `yaml:"catalog"`
	Publish   PublishConfig             `yaml:"publish"`
	Segmenter SegmenterConfig           `yaml:"segmenter"`
	Resample  ResampleConfig            `yaml:"resample"`
	Profilers map[string]ProfilerConfig `yaml:"profilers"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// SourceKind names one of the series providers.
type SourceKind string

const (
	SourceObjectStore SourceKind = "object_store"
	SourceLocal       SourceKind = "local"
	SourceCatalog     SourceKind = "catalog"
)

// ParseSourceKind maps a flag or config value to a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SourceObjectStore, SourceLocal, SourceCatalog:
		return k, nil
	default:
		return "", fmt.Errorf("unknown source kind %q (want %s, %s or %s)", s, SourceObjectStore, SourceLocal, SourceCatalog)
	}
}

type SourceConfig struct {
	Kind      SourceKind `yaml:"kind"`
	LocalPath string     `yaml:"local_path"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Anonymous       bool   `yaml:"anonymous"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type CatalogConfig struct {
	BaseURL           string        `yaml:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

type PublishConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
	ManifestDir string `yaml:"manifest_dir"`
}

type SegmenterConfig struct {
	MovementThreshold  float64       `yaml:"movement_threshold"`
	ParkDepthThreshold float64       `yaml:"park_depth_threshold"`
	MaxCastDuration    time.Duration `yaml:"max_cast_duration"`
}

type ResampleConfig struct {
	BinWidth time.Duration `yaml:"bin_width"`
}

// ProfilerConfig describes where one instrument's data and index live.
type ProfilerConfig struct {
	PressureVariable string `yaml:"pressure_variable"`
	IndexFile        string `yaml:"index_file"`
	ObjectPrefix     string `yaml:"object_prefix"`
	CatalogDataset   string `yaml:"catalog_dataset"`
}

// Default returns a configuration holding every default value.
func Default() Config {
	return Config{
		App: AppConfig{Name: "profileindexer", Version: "dev"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: MetricsConfig{CloudWatch: CloudWatchConfig{
			Namespace: "ProfileIndexer",
			Dashboard: "ProfileIndexer",
		}},
		Source:  SourceConfig{Kind: SourceObjectStore},
		Storage: StorageConfig{S3: S3Config{Region: "us-west-2", Anonymous: true}},
		Catalog: CatalogConfig{RequestsPerSecond: 2, Timeout: time.Minute},
		Publish: PublishConfig{Compression: "snappy"},
		Segmenter: SegmenterConfig{
			MovementThreshold:  0.5,
			ParkDepthThreshold: 180,
			MaxCastDuration:    5 * time.Hour,
		},
		Resample:  ResampleConfig{BinWidth: time.Minute},
		Profilers: map[string]ProfilerConfig{},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of the defaults, applies environment
// overrides and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Publish.Bucket = strings.TrimSpace(config.Publish.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Storage.S3.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		config.Storage.S3.Bucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if _, err := ParseSourceKind(string(cfg.Source.Kind)); err != nil {
		return fmt.Errorf("source.kind: %w", err)
	}

	if cfg.Segmenter.MovementThreshold < 0 {
		return fmt.Errorf("segmenter.movement_threshold must not be negative")
	}
	if cfg.Segmenter.MaxCastDuration <= 0 {
		return fmt.Errorf("segmenter.max_cast_duration must be greater than 0")
	}
	if cfg.Resample.BinWidth <= 0 {
		return fmt.Errorf("resample.bin_width must be greater than 0")
	}

	if len(cfg.Profilers) == 0 {
		return fmt.Errorf("at least one profiler must be configured")
	}
	for _, id := range cfg.ProfilerIDs() {
		p := cfg.Profilers[id]
		if p.PressureVariable == "" {
			return fmt.Errorf("profilers.%s.pressure_variable is required", id)
		}
		if p.IndexFile == "" {
			return fmt.Errorf("profilers.%s.index_file is required", id)
		}
	}

	if cfg.Storage.S3.Bucket != "" && !isValidS3Bucket(cfg.Storage.S3.Bucket) {
		return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
	}
	if !cfg.Storage.S3.Anonymous && (cfg.Storage.S3.AccessKeyID == "") != (cfg.Storage.S3.SecretAccessKey == "") {
		return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key must be set together")
	}

	if cfg.Catalog.BaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.Catalog.BaseURL); err != nil {
			return fmt.Errorf("catalog.base_url is invalid: %w", err)
		}
	}
	if cfg.Catalog.RequestsPerSecond <= 0 {
		return fmt.Errorf("catalog.requests_per_second must be greater than 0")
	}

	if cfg.Publish.Enabled {
		if cfg.Publish.Bucket == "" {
			return fmt.Errorf("publish.bucket is required when publishing is enabled")
		}
		if !isValidS3Bucket(cfg.Publish.Bucket) {
			return fmt.Errorf("publish.bucket '%s' is invalid", cfg.Publish.Bucket)
		}
		switch cfg.Publish.Compression {
		case "snappy", "gzip", "none", "":
		default:
			return fmt.Errorf("publish.compression '%s' is not supported", cfg.Publish.Compression)
		}
	}

	return nil
}

// ProfilerIDs returns the configured profiler identifiers in sorted order.
func (c *Config) ProfilerIDs() []string {
	ids := make([]string, 0, len(c.Profilers))
	for id := range c.Profilers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Profiler returns the settings for one profiler.
func (c *Config) Profiler(id string) (ProfilerConfig, error) {
	p, ok := c.Profilers[id]
	if !ok {
		return ProfilerConfig{}, fmt.Errorf("profiler %q is not configured (known: %s)", id, strings.Join(c.ProfilerIDs(), ", "))
	}
	return p, nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
