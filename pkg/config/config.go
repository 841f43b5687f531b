// Package config loads the .model-smith.yml tool configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/model-smith/pkg/analyzer"
	"github.com/wonderfulspam/model-smith/pkg/differ"
)

// DefaultFileNames are searched, in order, when no config file is given.
var DefaultFileNames = []string{".model-smith.yml", ".model-smith.yaml", ".model-smith.json"}

// Config is the complete tool configuration. Command-line flags override
// the values loaded here.
type Config struct {
	Diff     DiffConfig       `yaml:"diff" json:"diff"`
	Analysis *analyzer.Config `yaml:"analysis,omitempty" json:"analysis,omitempty"`
	// AnalysisFile names a separate analyzer configuration, relative to
	// this file, used instead of an inline analysis section.
	AnalysisFile string       `yaml:"analysis_file,omitempty" json:"analysis_file,omitempty"`
	Output       OutputConfig `yaml:"output" json:"output"`
	Stats        StatsConfig  `yaml:"stats" json:"stats"`
}

type DiffConfig struct {
	Epsilon         float64 `yaml:"epsilon" json:"epsilon" validate:"gte=0"`
	IgnoreKeysRegex string  `yaml:"ignore_keys_regex,omitempty" json:"ignore_keys_regex,omitempty" validate:"omitempty,regexp"`
	ArrayIDKey      string  `yaml:"array_id_key,omitempty" json:"array_id_key,omitempty"`
	Path            string  `yaml:"path,omitempty" json:"path,omitempty"`
	SortByMagnitude bool    `yaml:"sort_by_magnitude" json:"sort_by_magnitude"`
}

type OutputConfig struct {
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=text json yaml"`
	Color  string `yaml:"color" json:"color" validate:"omitempty,oneof=auto always never"`
}

type StatsConfig struct {
	Workers   int    `yaml:"workers" json:"workers" validate:"gte=0,lte=1024"`
	ChunkSize int    `yaml:"chunk_size" json:"chunk_size" validate:"gte=0"`
	CacheDir  string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("regexp", validateRegexp)
}

func validateRegexp(fl validator.FieldLevel) bool {
	_, err := regexp.Compile(fl.Field().String())
	return err == nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Analysis: analyzer.DefaultConfig(),
		Output:   OutputConfig{Format: "text", Color: "auto"},
	}
}

// Load reads a YAML or JSON config file and fills in defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	config.Analysis = nil

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jerr := json.Unmarshal(data, config); jerr != nil {
			return nil, fmt.Errorf("failed to parse config file as YAML or JSON: %w", err)
		}
	}

	if config.AnalysisFile != "" {
		if config.Analysis != nil {
			return nil, errors.New("analysis and analysis_file cannot both be set")
		}
		path := config.AnalysisFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(filename), path)
		}
		analysis, err := analyzer.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("analysis_file %s: %w", config.AnalysisFile, err)
		}
		config.Analysis = analysis
		return config, nil
	}

	if config.Analysis == nil {
		config.Analysis = analyzer.DefaultConfig()
	}
	config.Analysis.MergeDefaults()
	return config, nil
}

// Find returns the first default config file in dir, or "" when none exists.
func Find(dir string) string {
	for _, name := range DefaultFileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// LoadOrDefault loads filename, or a default file from the working
// directory when filename is empty, or returns the defaults.
func LoadOrDefault(filename string) (*Config, error) {
	if filename == "" {
		filename = Find(".")
	}
	if filename == "" {
		return Default(), nil
	}
	return Load(filename)
}

// Save writes config as JSON for .json files and YAML otherwise.
func Save(config *Config, filename string) error {
	var data []byte
	var err error

	if filepath.Ext(filename) == ".json" {
		data, err = json.MarshalIndent(config, "", "  ")
	} else {
		data, err = yaml.Marshal(config)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filename, data, 0o644)
}

// Validate checks field constraints and that every listed analysis exists.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Analysis != nil {
		known := make(map[string]bool)
		for _, name := range analyzer.DefaultRegistry().Names() {
			known[name] = true
		}
		for name := range c.Analysis.Analyses {
			if !known[name] {
				return fmt.Errorf("invalid configuration: unknown analysis %q", name)
			}
		}
	}

	if _, err := differ.NewPolicy(c.PolicyOptions()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PolicyOptions converts the diff section for differ.NewPolicy.
func (c *Config) PolicyOptions() differ.PolicyOptions {
	return differ.PolicyOptions{
		Epsilon:         c.Diff.Epsilon,
		IgnoreKeysRegex: c.Diff.IgnoreKeysRegex,
		ArrayIDKey:      c.Diff.ArrayIDKey,
		Path:            c.Diff.Path,
		SortByMagnitude: c.Diff.SortByMagnitude,
	}
}

// InitTemplate is written by "config init".
const InitTemplate = `# model-smith configuration
# Command-line flags take precedence over these values.

diff:
  # Numeric differences with |old - new| <= epsilon are ignored.
  epsilon: 0
  # Map keys matching this regular expression are skipped at every depth.
  ignore_keys_regex: ""
  # Sequences of maps are matched by this key instead of by position.
  array_id_key: ""
  # Only report differences at or below this path, e.g. "layers[0].weight".
  # Keys containing dots are quoted: 'cfg["a.b"]'. With array_id_key an
  # index such as items[0] selects the element at that position on either side.
  path: ""
  # Order records by size of change, structural changes first.
  sort_by_magnitude: false

output:
  # text, json or yaml
  format: text
  # auto, always or never
  color: auto

stats:
  # Concurrent tensors; 0 uses every CPU.
  workers: 0
  # Values read per step; 0 uses the built-in default.
  chunk_size: 0
  # Directory of the persistent statistics cache; empty disables it.
  cache_dir: ""

analysis:
  analyses:
{{ANALYSES}}`

const analysisFileSection = `# Analyses are configured in a separate file.
analysis_file: %q
`

// Template renders InitTemplate with every registered analysis enabled. With
// a non-empty analysisFile the analysis section is replaced by a reference
// to that file, which "config init" writes with analyzer.SaveConfig.
func Template(analysisFile string) string {
	if analysisFile != "" {
		head, _, _ := strings.Cut(InitTemplate, "analysis:\n")
		return head + fmt.Sprintf(analysisFileSection, analysisFile)
	}
	defaults := analyzer.DefaultConfig()
	var b strings.Builder
	for _, name := range analyzer.DefaultRegistry().Names() {
		a := defaults.Analyses[name]
		fmt.Fprintf(&b, "    %s:\n", name)
		fmt.Fprintf(&b, "      category: %s\n", a.Category)
		fmt.Fprintf(&b, "      enabled: true\n")
		fmt.Fprintf(&b, "      description: %q\n", a.Description)
	}
	return strings.Replace(InitTemplate, "{{ANALYSES}}", b.String(), 1)
}
