package parser

import (
	"testing"
)

func TestParseYAMLEdgeCases(t *testing.T) {
	t.Run("malformed YAML", func(t *testing.T) {
		invalidYAML := `
model:
  layers: 12
  heads: [unclosed bracket
`
		_, err := Parse([]byte(invalidYAML), FormatYAML)
		if err == nil {
			t.Error("Expected error for malformed YAML")
		}
	})

	t.Run("invalid anchors", func(t *testing.T) {
		invalidYAML := `
.base: &base
  optimizer: adam

run:
  <<: *nonexistent
  epochs: 3
`
		_, err := Parse([]byte(invalidYAML), FormatYAML)
		if err == nil {
			t.Error("Expected error for invalid anchor reference")
		}
	})

	t.Run("merge keys", func(t *testing.T) {
		input := `
.base: &base
  optimizer: adam
  epochs: 10

run:
  <<: *base
  epochs: 3
`
		v, err := Parse([]byte(input), FormatYAML)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := mustJSON(t, v); got != `{".base":{"optimizer":"adam","epochs":10},"run":{"epochs":3,"optimizer":"adam"}}` {
			t.Errorf("Expected merged mapping with local keys winning, got %s", got)
		}
	})

	t.Run("merge of scalar", func(t *testing.T) {
		input := `
.lr: &lr 0.1
run:
  <<: *lr
`
		if _, err := Parse([]byte(input), FormatYAML); err == nil {
			t.Error("Expected error for merge key referencing a scalar")
		}
	})

	t.Run("empty data", func(t *testing.T) {
		v, err := Parse([]byte(""), FormatYAML)
		if err != nil {
			t.Fatalf("Expected empty YAML to parse, got error: %v", err)
		}
		if !v.IsNull() {
			t.Errorf("Expected null for empty document, got %s", mustJSON(t, v))
		}
	})

	t.Run("multiple documents", func(t *testing.T) {
		v, err := Parse([]byte("a: 1\n---\nb: 2\n"), FormatYAML)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := mustJSON(t, v); got != `[{"a":1},{"b":2}]` {
			t.Errorf("Expected a sequence of documents, got %s", got)
		}
	})

	t.Run("invalid UTF-8", func(t *testing.T) {
		invalidUTF8 := []byte{0xff, 0xfe, 0xfd}
		_, err := Parse(invalidUTF8, FormatYAML)
		if err == nil {
			t.Error("Expected error for invalid UTF-8")
		}
	})
}

func TestParseINIAndCSVEdgeCases(t *testing.T) {
	t.Run("ini default section", func(t *testing.T) {
		v, err := Parse([]byte("seed = 42\n[optimizer]\nname = adam\n"), FormatINI)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := mustJSON(t, v); got != `{"seed":"42","optimizer":{"name":"adam"}}` {
			t.Errorf("Expected default keys at top level, got %s", got)
		}
	})

	t.Run("csv ragged rows", func(t *testing.T) {
		v, err := Parse([]byte("epoch,loss\n1,0.9\n2\n"), FormatCSV)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := mustJSON(t, v); got != `[{"epoch":"1","loss":"0.9"},{"epoch":"2","loss":""}]` {
			t.Errorf("Expected missing cells as empty strings, got %s", got)
		}
	})

	t.Run("csv empty", func(t *testing.T) {
		v, err := Parse(nil, FormatCSV)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := mustJSON(t, v); got != `[]` {
			t.Errorf("Expected empty sequence, got %s", got)
		}
	})
}
