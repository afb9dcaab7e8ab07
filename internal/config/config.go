package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/image-sweep/internal/logging"
	apperrors "github.com/menta2k/image-sweep/internal/platform/errors"
	"github.com/menta2k/image-sweep/pkg/processing"
	"github.com/menta2k/image-sweep/pkg/sweep"
	"github.com/menta2k/image-sweep/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. IMAGESWEEP_API_URL
const EnvPrefix = "IMAGESWEEP"

// Config holds the application configuration
type Config struct {
	Input    InputConfig    `yaml:"input" mapstructure:"input"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Prompt   PromptConfig   `yaml:"prompt" mapstructure:"prompt"`
	Sampling types.Sampling `yaml:"sampling" mapstructure:"sampling"`
	Sweep    SweepConfig    `yaml:"sweep" mapstructure:"sweep"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      logging.Config `yaml:"log" mapstructure:"log"`
}

type InputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// APIConfig selects and configures the inference backend
type APIConfig struct {
	// Backend is llamacpp (OpenAI compatible) or ollama
	Backend string        `yaml:"backend" mapstructure:"backend"`
	URL     string        `yaml:"url" mapstructure:"url"`
	Token   string        `yaml:"token" mapstructure:"token"`
	Model   string        `yaml:"model" mapstructure:"model"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type PromptConfig struct {
	System      string `yaml:"system" mapstructure:"system"`
	Instruction string `yaml:"instruction" mapstructure:"instruction"`
}

type SweepConfig struct {
	MaxDimension int       `yaml:"max_dimension" mapstructure:"max_dimension"`
	Scales       []float64 `yaml:"scales" mapstructure:"scales"`
	Qualities    []int     `yaml:"qualities" mapstructure:"qualities"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	// Dir defaults to "<input dir>_results"
	Dir          string `yaml:"dir" mapstructure:"dir"`
	Format       string `yaml:"format" mapstructure:"format"`
	Quality      int    `yaml:"quality" mapstructure:"quality"`
	SaveVariants bool   `yaml:"save_variants" mapstructure:"save_variants"`
	VariantDir   string `yaml:"variant_dir" mapstructure:"variant_dir"`
	FontMetrics  bool   `yaml:"font_metrics" mapstructure:"font_metrics"`
}

type StorageConfig struct {
	// ResultsDB enables the SQLite ledger when set
	ResultsDB string `yaml:"results_db" mapstructure:"results_db"`
}

type MetricsConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		API: APIConfig{
			Backend: "llamacpp",
			URL:     "http://localhost:5001",
			Timeout: 300 * time.Second,
		},
		Prompt: PromptConfig{
			System:      sweep.DefaultSystemInstruction,
			Instruction: sweep.DefaultInstruction,
		},
		Sampling: types.DefaultSampling(),
		Sweep: SweepConfig{
			MaxDimension: processing.DefaultMaxDimension,
			Scales:       sweep.DefaultScales(),
			Qualities:    sweep.DefaultQualities(),
		},
		Output: OutputConfig{
			Format:  "jpg",
			Quality: 92,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// flagKeys maps CLI flag names onto configuration keys
var flagKeys = map[string]string{
	"dir":           "input.dir",
	"backend":       "api.backend",
	"api-url":       "api.url",
	"api-password":  "api.token",
	"model":         "api.model",
	"timeout":       "api.timeout",
	"max-dimension": "sweep.max_dimension",
	"scales":        "sweep.scales",
	"qualities":     "sweep.qualities",
	"output-dir":    "output.dir",
	"format":        "output.format",
	"save-variants": "output.save_variants",
	"variant-dir":   "output.variant_dir",
	"font-metrics":  "output.font_metrics",
	"results-db":    "storage.results_db",
	"metrics-file":  "metrics.file",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"temperature":   "sampling.temperature",
	"max-tokens":    "sampling.max_tokens",
}

// Loader reads configuration in layers: defaults, YAML file, environment,
// then explicitly set flags.
type Loader struct {
	useDotEnv bool
	dotEnv    []string
	path      string
	flags     *pflag.FlagSet
}

func NewLoader() *Loader {
	return &Loader{useDotEnv: true}
}

// WithDotEnv toggles loading variables from .env files before reading config
func (l *Loader) WithDotEnv(enabled bool, files ...string) *Loader {
	l.useDotEnv = enabled
	l.dotEnv = files
	return l
}

// WithFile reads a YAML file; an empty path skips the file layer
func (l *Loader) WithFile(path string) *Loader {
	l.path = path
	return l
}

// WithFlags binds the known flags of fs
func (l *Loader) WithFlags(fs *pflag.FlagSet) *Loader {
	l.flags = fs
	return l
}

func (l *Loader) Load() (*Config, error) {
	if l.useDotEnv {
		// a missing .env is normal
		_ = godotenv.Load(l.dotEnv...)
	}

	v := viper.New()
	setDefaults(v, Default())

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfig, "config", "failed to read config file", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.flags != nil {
		for name, key := range flagKeys {
			if f := l.flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, apperrors.Wrap(apperrors.KindConfig, "config", "bind flag "+name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfig, "config", "failed to parse config", err)
	}
	return &cfg, nil
}

// Load reads the optional YAML file at path plus environment overrides
func Load(path string) (*Config, error) {
	return NewLoader().WithFile(path).Load()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("input.dir", d.Input.Dir)

	v.SetDefault("api.backend", d.API.Backend)
	v.SetDefault("api.url", d.API.URL)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("api.model", d.API.Model)
	v.SetDefault("api.timeout", d.API.Timeout)

	v.SetDefault("prompt.system", d.Prompt.System)
	v.SetDefault("prompt.instruction", d.Prompt.Instruction)

	v.SetDefault("sampling.max_tokens", d.Sampling.MaxTokens)
	v.SetDefault("sampling.temperature", d.Sampling.Temperature)
	v.SetDefault("sampling.top_p", d.Sampling.TopP)
	v.SetDefault("sampling.top_k", d.Sampling.TopK)
	v.SetDefault("sampling.rep_pen", d.Sampling.RepPen)
	v.SetDefault("sampling.min_p", d.Sampling.MinP)

	v.SetDefault("sweep.max_dimension", d.Sweep.MaxDimension)
	v.SetDefault("sweep.scales", d.Sweep.Scales)
	v.SetDefault("sweep.qualities", d.Sweep.Qualities)

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.quality", d.Output.Quality)
	v.SetDefault("output.save_variants", d.Output.SaveVariants)
	v.SetDefault("output.variant_dir", d.Output.VariantDir)
	v.SetDefault("output.font_metrics", d.Output.FontMetrics)

	v.SetDefault("storage.results_db", d.Storage.ResultsDB)
	v.SetDefault("metrics.file", d.Metrics.File)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
}

// SweepConfig converts the loaded values into the controller's config
func (c *Config) SweepConfig() sweep.Config {
	return sweep.Config{
		SystemInstruction: c.Prompt.System,
		Instruction:       c.Prompt.Instruction,
		Model:             c.API.Model,
		Sampling:          c.Sampling,
		MaxDimension:      c.Sweep.MaxDimension,
		Scales:            append([]float64(nil), c.Sweep.Scales...),
		Qualities:         append([]int(nil), c.Sweep.Qualities...),
	}
}

// OutputDir returns the configured output directory or "<input dir>_results"
func (c *Config) OutputDir() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return strings.TrimRight(c.Input.Dir, `/\`) + "_results"
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Dump writes the configuration as YAML with the API token masked
func (c *Config) Dump(w io.Writer) error {
	out := *c
	if out.API.Token != "" {
		out.API.Token = "********"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return apperrors.Wrap(apperrors.KindConfig, "config", "invalid configuration", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.API.Backend {
	case "llamacpp", "ollama":
	default:
		return fmt.Errorf("api.backend must be llamacpp or ollama, got %q", c.API.Backend)
	}

	if c.API.URL == "" {
		return fmt.Errorf("api.url cannot be empty")
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	if c.API.Backend == "ollama" && c.API.Model == "" {
		return fmt.Errorf("api.model is required for the ollama backend")
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be jpg, png or webp, got %q", c.Output.Format)
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Sampling.Temperature < 0 {
		return fmt.Errorf("sampling.temperature cannot be negative")
	}

	return c.SweepConfig().Validate()
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "image-sweep", "config.yaml")
}

// ResolvePath picks the config file to read: explicit when set, otherwise
// the default path if a file exists there, otherwise none.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if path := GetConfigPath(); fileExists(path) {
		return path
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
