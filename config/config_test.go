package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content to a temporary config file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

const minimalConfig = `app:
  name: "TestApp"
  version: "1.0"
profilers:
  RS01SBPS:
    pressure_variable: sea_water_pressure
    index_file: RS01SBPS_profiles.csv
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION", "S3_BUCKET", "LOG_LEVEL", "APP_ENV"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Segmenter.MovementThreshold != 0.5 || cfg.Segmenter.ParkDepthThreshold != 180 || cfg.Segmenter.MaxCastDuration != 5*time.Hour {
		t.Errorf("segmenter defaults not applied: %+v", cfg.Segmenter)
	}
	if cfg.Resample.BinWidth != time.Minute {
		t.Errorf("unexpected bin width: %v", cfg.Resample.BinWidth)
	}
	if cfg.Source.Kind != SourceObjectStore {
		t.Errorf("unexpected source kind: %s", cfg.Source.Kind)
	}
	p, err := cfg.Profiler("RS01SBPS")
	if err != nil {
		t.Fatalf("profiler lookup: %v", err)
	}
	if p.PressureVariable != "sea_water_pressure" {
		t.Errorf("unexpected pressure variable: %s", p.PressureVariable)
	}
}

func TestLoadShippedConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("config.yml")
	if err != nil {
		t.Fatalf("shipped config does not load: %v", err)
	}
	if len(cfg.ProfilerIDs()) == 0 {
		t.Fatalf("shipped config has no profilers")
	}
}

func TestSegmenterOverrides(t *testing.T) {
	clearEnv(t)
	content := minimalConfig + `segmenter:
  movement_threshold: 0.8
  park_depth_threshold: 150
  max_cast_duration: 3h30m
resample:
  bin_width: 30s
`
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Segmenter.MovementThreshold != 0.8 || cfg.Segmenter.ParkDepthThreshold != 150 {
		t.Errorf("thresholds not overridden: %+v", cfg.Segmenter)
	}
	if cfg.Segmenter.MaxCastDuration != 3*time.Hour+30*time.Minute {
		t.Errorf("unexpected max cast duration: %v", cfg.Segmenter.MaxCastDuration)
	}
	if cfg.Resample.BinWidth != 30*time.Second {
		t.Errorf("unexpected bin width: %v", cfg.Resample.BinWidth)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_BUCKET", " other-bucket ")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.S3.Bucket != "other-bucket" {
		t.Errorf("bucket override not applied: %q", cfg.Storage.S3.Bucket)
	}
	if cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("region override not applied: %q", cfg.Storage.S3.Region)
	}
}

func TestValidationErrors(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"no profilers": `app: {name: x}
profilers: {}
`,
		"missing variable": `app: {name: x}
profilers:
  A: {index_file: a.csv}
`,
		"bad source kind": minimalConfig + `source: {kind: zarr}
`,
		"zero duration": minimalConfig + `segmenter: {max_cast_duration: 0s}
`,
		"publish without bucket": minimalConfig + `publish: {enabled: true}
`,
		"bad compression": minimalConfig + `publish: {enabled: true, bucket: index-bucket, compression: lz4}
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestUnknownProfiler(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	_, err = cfg.Profiler("NOPE")
	if err == nil || !strings.Contains(err.Error(), "RS01SBPS") {
		t.Fatalf("expected error listing known profilers, got %v", err)
	}
}

func TestParseSourceKind(t *testing.T) {
	for _, s := range []string{"object_store", "LOCAL", " catalog "} {
		if _, err := ParseSourceKind(s); err != nil {
			t.Errorf("ParseSourceKind(%q): %v", s, err)
		}
	}
	if _, err := ParseSourceKind("zarr-ish"); err == nil {
		t.Errorf("expected error for unknown kind")
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte(minimalConfig), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("APP_ENV", "prod")
	if got := ResolveConfigPath(def, def); got != prod {
		t.Errorf("expected production config, got %s", got)
	}
	if got := ResolveConfigPath("custom.yml", def); got != "custom.yml" {
		t.Errorf("explicit path not honoured: %s", got)
	}

	t.Setenv("APP_ENV", "")
	if got := ResolveConfigPath("", def); got != def {
		t.Errorf("expected default path, got %s", got)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
