package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("dir", "", "")
	fs.String("api-url", "http://flag-default:1", "")
	fs.String("backend", "llamacpp", "")
	fs.Duration("timeout", time.Minute, "")
	fs.StringSlice("scales", nil, "")
	fs.IntSlice("qualities", nil, "")
	fs.Bool("save-variants", false, "")
	fs.Float64("temperature", 0.1, "")
	return fs
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	sc := cfg.SweepConfig()
	if len(sc.Pairs()) != 18 {
		t.Errorf("Expected 18 pairs, got %d", len(sc.Pairs()))
	}
	if cfg.API.Timeout != 300*time.Second {
		t.Errorf("Expected 300s timeout, got %s", cfg.API.Timeout)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithDotEnv(false).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoadFileEnvAndFlagsLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	yamlDoc := `
api:
  url: http://file:5001
  model: from-file
  timeout: 45s
sweep:
  scales: [1.0, 0.5]
  qualities: [100, 40]
output:
  format: png
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("IMAGESWEEP_API_MODEL", "from-env")
	t.Setenv("IMAGESWEEP_SAMPLING_MAX_TOKENS", "256")

	fs := testFlags()
	if err := fs.Parse([]string{"--dir", "/data/in", "--timeout", "2m", "--qualities", "90,10"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().WithDotEnv(false).WithFile(path).WithFlags(fs).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.URL != "http://file:5001" {
		t.Errorf("Expected file url (unchanged flag must not win), got %s", cfg.API.URL)
	}
	if cfg.API.Model != "from-env" {
		t.Errorf("Expected env model, got %s", cfg.API.Model)
	}
	if cfg.API.Timeout != 2*time.Minute {
		t.Errorf("Expected flag timeout, got %s", cfg.API.Timeout)
	}
	if cfg.Sampling.MaxTokens != 256 {
		t.Errorf("Expected env max tokens, got %d", cfg.Sampling.MaxTokens)
	}
	if !reflect.DeepEqual(cfg.Sweep.Scales, []float64{1.0, 0.5}) {
		t.Errorf("Expected file scales, got %v", cfg.Sweep.Scales)
	}
	if !reflect.DeepEqual(cfg.Sweep.Qualities, []int{90, 10}) {
		t.Errorf("Expected flag qualities, got %v", cfg.Sweep.Qualities)
	}
	if cfg.Output.Format != "png" || cfg.Input.Dir != "/data/in" {
		t.Errorf("Unexpected output/input %+v %+v", cfg.Output, cfg.Input)
	}
	// untouched keys keep defaults
	if cfg.Sampling.MinP != 0.1 || cfg.Sweep.MaxDimension != 896 {
		t.Errorf("Expected defaults to survive, got %+v %+v", cfg.Sampling, cfg.Sweep)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !apperrors.IsKind(err, apperrors.KindConfig) {
		t.Errorf("Expected config error, got %v", err)
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.API.Model = "llava"
	cfg.API.Token = "secret"
	cfg.Input.Dir = "/data/in"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := NewLoader().WithDotEnv(false).WithFile(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("Round trip mismatch:\nwant %+v\ngot  %+v", cfg, loaded)
	}
}

func TestDumpMasksToken(t *testing.T) {
	cfg := Default()
	cfg.API.Token = "secret"

	var buf bytes.Buffer
	if err := cfg.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "secret") || !strings.Contains(out, "token: '********'") && !strings.Contains(out, `token: "********"`) {
		t.Errorf("Expected masked token, got:\n%s", out)
	}
	if cfg.API.Token != "secret" {
		t.Error("Dump must not modify the config")
	}
	if !strings.Contains(out, "timeout: 5m0s") {
		t.Errorf("Expected readable timeout, got:\n%s", out)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.API.Backend = "grpc" }},
		{"url", func(c *Config) { c.API.URL = "" }},
		{"timeout", func(c *Config) { c.API.Timeout = 0 }},
		{"ollama needs model", func(c *Config) { c.API.Backend = "ollama" }},
		{"format", func(c *Config) { c.Output.Format = "gif" }},
		{"quality", func(c *Config) { c.Output.Quality = 0 }},
		{"temperature", func(c *Config) { c.Sampling.Temperature = -1 }},
		{"scale", func(c *Config) { c.Sweep.Scales = []float64{1.2} }},
		{"quality level", func(c *Config) { c.Sweep.Qualities = []int{0} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); !apperrors.IsKind(err, apperrors.KindConfig) {
				t.Errorf("Expected config error, got %v", err)
			}
		})
	}

	ok := Default()
	ok.API.Backend = "ollama"
	ok.API.Model = "llava"
	if err := ok.Validate(); err != nil {
		t.Errorf("Expected valid ollama config, got %v", err)
	}
}

func TestOutputDir(t *testing.T) {
	cfg := Default()
	cfg.Input.Dir = "/data/photos/"
	if got := cfg.OutputDir(); got != "/data/photos_results" {
		t.Errorf("Expected derived dir, got %s", got)
	}
	cfg.Output.Dir = "/tmp/out"
	if got := cfg.OutputDir(); got != "/tmp/out" {
		t.Errorf("Expected explicit dir, got %s", got)
	}
}

func TestGetConfigPath(t *testing.T) {
	if !strings.HasSuffix(GetConfigPath(), "config.yaml") {
		t.Errorf("Unexpected config path %s", GetConfigPath())
	}
}

func TestResolvePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ResolvePath("/etc/sweep.yaml"); got != "/etc/sweep.yaml" {
		t.Errorf("Expected explicit path, got %s", got)
	}
	if got := ResolvePath(""); got != "" {
		t.Errorf("Expected no path without a default file, got %s", got)
	}

	path := filepath.Join(home, ".config", "image-sweep", "config.yaml")
	if err := Default().SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}
	if got := ResolvePath(""); got != path {
		t.Errorf("Expected default path %s, got %s", path, got)
	}

	cfg, err := NewLoader().WithDotEnv(false).WithFile(ResolvePath("")).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.URL != "http://localhost:5001" {
		t.Errorf("Unexpected URL %s", cfg.API.URL)
	}
}
