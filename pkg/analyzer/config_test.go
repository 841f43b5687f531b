package analyzer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/model-smith/pkg/analyzer/types"
)

func TestDefaultConfigStructure(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if len(config.Analyses) != 17 {
		t.Errorf("Expected 17 default analyses, got %d", len(config.Analyses))
	}

	for name, a := range config.Analyses {
		if !a.Enabled {
			t.Errorf("Analysis '%s' should be enabled by default", name)
		}
		if a.Name != name {
			t.Errorf("Analysis name mismatch: map key '%s' vs Name '%s'", name, a.Name)
		}
		if a.Description == "" {
			t.Errorf("Analysis '%s' has empty description", name)
		}
	}

	for _, c := range types.Categories {
		if len(config.GetAnalysesByCategory(c)) == 0 {
			t.Errorf("No %s analyses found in default config", c)
		}
	}
}

func TestEnableDisableAnalysis(t *testing.T) {
	config := DefaultConfig()

	config.DisableAnalysis("gradient")
	if config.IsAnalysisEnabled("gradient") {
		t.Error("Expected gradient to be disabled")
	}
	config.EnableAnalysis("gradient")
	if !config.IsAnalysisEnabled("gradient") {
		t.Error("Expected gradient to be enabled")
	}

	config.EnableAnalysis("does_not_exist")
	if config.IsAnalysisEnabled("does_not_exist") {
		t.Error("Expected unknown analysis to report disabled")
	}
}

func TestGetEnabledAnalysesSorted(t *testing.T) {
	config := DefaultConfig()
	config.DisableAnalysis("loss")

	enabled := config.GetEnabledAnalyses()
	if len(enabled) != 16 {
		t.Errorf("Expected 16 enabled analyses, got %d", len(enabled))
	}
	for i := 1; i < len(enabled); i++ {
		if enabled[i-1] > enabled[i] {
			t.Errorf("Expected sorted names, got %s before %s", enabled[i-1], enabled[i])
		}
	}
	for _, n := range enabled {
		if n == "loss" {
			t.Error("Disabled analysis 'loss' listed as enabled")
		}
	}
}

func TestLoadConfigMergesDefaults(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		marshal func(any) ([]byte, error)
	}{
		{"yaml", "analysis.yml", yaml.Marshal},
		{"json", "analysis.json", json.Marshal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partial := &Config{Analyses: map[string]types.AnalysisConfig{
				"memory": {Enabled: false},
			}}
			data, err := tt.marshal(partial)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}

			config, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error: %v", err)
			}
			if config.IsAnalysisEnabled("memory") {
				t.Error("Expected memory to stay disabled")
			}
			if !config.IsAnalysisEnabled("gradient") {
				t.Error("Expected missing analyses to be filled from defaults")
			}
			if config.Analyses["memory"].Category != types.CategoryWeights {
				t.Errorf("Expected memory category to be filled in, got %q", config.Analyses["memory"].Category)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("analyses: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for malformed file")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, file := range []string{"out.yml", "out.json"} {
		config := DefaultConfig()
		config.DisableAnalysis("ensemble")
		path := filepath.Join(t.TempDir(), file)

		if err := SaveConfig(config, path); err != nil {
			t.Fatalf("SaveConfig(%s) error: %v", file, err)
		}
		loaded, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig(%s) error: %v", file, err)
		}
		if loaded.IsAnalysisEnabled("ensemble") {
			t.Errorf("%s: expected ensemble to stay disabled", file)
		}
		if len(loaded.Analyses) != len(config.Analyses) {
			t.Errorf("%s: expected %d analyses, got %d", file, len(config.Analyses), len(loaded.Analyses))
		}
	}
}
