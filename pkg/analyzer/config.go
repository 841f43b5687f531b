package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
)

// Config holds the overall analyzer configuration
type Config struct {
	Analyses map[string]types.AnalysisConfig `yaml:"analyses" json:"analyses"`
}

func analysis(name string, category types.Category, description string) types.AnalysisConfig {
	return types.AnalysisConfig{
		Name:        name,
		Category:    category,
		Enabled:     true,
		Description: description,
	}
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() *Config {
	defaults := []types.AnalysisConfig{
		// Training
		analysis("learning_rate", types.CategoryTraining, "Tracks learning rate changes between checkpoints"),
		analysis("optimizer", types.CategoryTraining, "Detects a change of optimizer"),
		analysis("loss", types.CategoryTraining, "Reports loss movement and whether it improved"),
		analysis("accuracy", types.CategoryTraining, "Reports accuracy movement and whether it improved"),
		analysis("model_version", types.CategoryTraining, "Detects model version changes"),

		// Gradient
		analysis("gradient", types.CategoryGradient, "Estimates gradient norms and flags vanishing or exploding gradients"),

		// Quantization
		analysis("quantization", types.CategoryQuantization, "Compares dtype mix, storage size and precision loss"),

		// Convergence
		analysis("convergence", types.CategoryConvergence, "Classifies loss history as converging, converged, diverging or oscillating"),

		// Architecture
		analysis("architecture", types.CategoryArchitecture, "Summarizes layer type changes and added or removed layers"),
		analysis("attention", types.CategoryArchitecture, "Tracks attention module count and weight drift"),
		analysis("activation", types.CategoryArchitecture, "Detects activation function changes and dead activations"),
		analysis("batch_norm", types.CategoryArchitecture, "Tracks batch norm running statistics"),
		analysis("ensemble", types.CategoryArchitecture, "Tracks ensemble membership and per-member drift"),

		// Weights
		analysis("weight_distribution", types.CategoryWeights, "Lists tensors whose distribution moved significantly"),
		analysis("regularization", types.CategoryWeights, "Detects weight decay and dropout changes"),
		analysis("memory", types.CategoryWeights, "Reports storage growth and the largest contributors"),
		analysis("complexity", types.CategoryWeights, "Compares parameter counts and layer depth"),
	}

	config := &Config{Analyses: make(map[string]types.AnalysisConfig, len(defaults))}
	for _, a := range defaults {
		config.Analyses[a.Name] = a
	}
	return config
}

// LoadConfig loads analyzer configuration from a file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jerr := json.Unmarshal(data, config); jerr != nil {
			return nil, fmt.Errorf("failed to parse config file as YAML or JSON: %w", err)
		}
	}

	config.MergeDefaults()
	return config, nil
}

// MergeDefaults fills in analyses the configuration does not mention.
func (c *Config) MergeDefaults() {
	if c.Analyses == nil {
		c.Analyses = make(map[string]types.AnalysisConfig)
	}
	for name, def := range DefaultConfig().Analyses {
		existing, exists := c.Analyses[name]
		if !exists {
			c.Analyses[name] = def
			continue
		}
		if existing.Name == "" {
			existing.Name = name
		}
		if existing.Category == "" {
			existing.Category = def.Category
		}
		if existing.Description == "" {
			existing.Description = def.Description
		}
		c.Analyses[name] = existing
	}
}

// SaveConfig saves analyzer configuration to a file
func SaveConfig(config *Config, filename string) error {
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

// IsAnalysisEnabled returns whether a specific analysis is enabled
func (c *Config) IsAnalysisEnabled(name string) bool {
	if a, exists := c.Analyses[name]; exists {
		return a.Enabled
	}
	return false
}

func (c *Config) EnableAnalysis(name string) {
	if a, exists := c.Analyses[name]; exists {
		a.Enabled = true
		c.Analyses[name] = a
	}
}

func (c *Config) DisableAnalysis(name string) {
	if a, exists := c.Analyses[name]; exists {
		a.Enabled = false
		c.Analyses[name] = a
	}
}

// GetEnabledAnalyses returns the sorted names of enabled analyses
func (c *Config) GetEnabledAnalyses() []string {
	var enabled []string
	for name, a := range c.Analyses {
		if a.Enabled {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}

// GetAnalysesByCategory returns the sorted names of enabled analyses in a category
func (c *Config) GetAnalysesByCategory(category types.Category) []string {
	var names []string
	for name, a := range c.Analyses {
		if a.Enabled && a.Category == category {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
