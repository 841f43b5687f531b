package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model-smith.yml")

	code, out, errOut := run(t, "config", "init", path)
	if code != exitSame {
		t.Fatalf("Expected success, got exit %d (%s)", code, errOut)
	}
	if !strings.Contains(out, "Configuration file created: "+path) {
		t.Errorf("Expected confirmation, got:\n%s", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected config file, got error: %v", err)
	}
	if !strings.Contains(string(data), "learning_rate:") {
		t.Errorf("Expected analyses in template, got:\n%s", data)
	}

	code, _, errOut = run(t, "config", "init", path)
	if code != exitError || !strings.Contains(errOut, "already exists") {
		t.Errorf("Expected refusal to overwrite, got exit %d (%s)", code, errOut)
	}

	code, out, errOut = run(t, "config", "validate", path)
	if code != exitSame {
		t.Fatalf("Expected generated config to validate, got exit %d (%s)", code, errOut)
	}
	if !strings.Contains(out, "Enabled Analyses: 17") {
		t.Errorf("Expected analysis summary, got:\n%s", out)
	}
	if !strings.Contains(out, "Quantization: quantization") {
		t.Errorf("Expected per-category summary, got:\n%s", out)
	}
}

func TestConfigInitSeparateAnalysisFile(t *testing.T) {
	for _, name := range []string{"model-smith.yml", "model-smith.json"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, name)
			analyses := filepath.Join(dir, "analyses.yml")

			code, _, errOut := run(t, "config", "init", "--analysis-file", analyses, path)
			if code != exitSame {
				t.Fatalf("Expected success, got exit %d (%s)", code, errOut)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("Expected config file, got error: %v", err)
			}
			if !strings.Contains(string(data), "analyses.yml") || strings.Contains(string(data), "learning_rate") {
				t.Errorf("Expected a reference to the analysis file only, got:\n%s", data)
			}
			if _, err := os.Stat(analyses); err != nil {
				t.Fatalf("Expected analysis file, got error: %v", err)
			}

			code, out, errOut := run(t, "config", "validate", path)
			if code != exitSame {
				t.Fatalf("Expected generated config to validate, got exit %d (%s)", code, errOut)
			}
			if !strings.Contains(out, "Enabled Analyses: 17") {
				t.Errorf("Expected analyses loaded from the separate file, got:\n%s", out)
			}
		})
	}
}

func TestConfigValidateRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "diff: [", "configuration validation failed"},
		{"negative epsilon", "diff:\n  epsilon: -0.5\n", "Epsilon"},
		{"unknown analysis", "analysis:\n  analyses:\n    telepathy:\n      enabled: true\n", "telepathy"},
		{"bad color", "output:\n  color: rainbow\n", "Color"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".yml", tt.content)
			code, _, errOut := run(t, "config", "validate", path)
			if code != exitError {
				t.Errorf("Expected exit code %d, got %d", exitError, code)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("Expected error mentioning %q, got %q", tt.want, errOut)
			}
		})
	}
}

func TestConfigList(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "cfg.yml", "analysis:\n  analyses:\n    ensemble:\n      enabled: false\n")

	code, out, errOut := run(t, "--config", cfg, "config", "list")
	if code != exitSame {
		t.Fatalf("Expected success, got exit %d (%s)", code, errOut)
	}
	for _, want := range []string{"Training (5)", "Architecture (5)", "Weights (4)", "[off] ensemble", "[on ] gradient"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}
