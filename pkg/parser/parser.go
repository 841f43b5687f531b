// Package parser turns structured text formats into value trees and owns
// format detection for every supported file type.
package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/model-smith/pkg/value"
)

// Parse decodes data of a structured format.
func Parse(data []byte, format Format) (value.Value, error) {
	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatTOML:
		return parseTOML(data)
	case FormatXML:
		return parseXML(data)
	case FormatCSV:
		return parseCSV(data)
	case FormatINI:
		return parseINI(data)
	}
	return value.Value{}, fmt.Errorf("%s is not a structured text format", format)
}

// ParseFile reads and decodes path. Failures are reported as *ParseError.
func ParseFile(path string, format Format) (value.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return value.Value{}, &ParseError{Path: path, Format: format, Err: err}
	}
	v, err := Parse(data, format)
	if err != nil {
		return value.Value{}, &ParseError{Path: path, Format: format, Err: err}
	}
	return v, nil
}

func parseJSON(data []byte) (value.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return value.Value{}, fmt.Errorf("unmarshaling JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return value.Value{}, errors.New("unmarshaling JSON: trailing data after top-level value")
	}
	return v, nil
}

// decodeJSON reads one value from the token stream so object key order is
// kept.
func decodeJSON(dec *json.Decoder) (value.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return value.Value{}, io.ErrUnexpectedEOF
		}
		return value.Value{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := value.NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return value.Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return value.Value{}, fmt.Errorf("object key is %T, not a string", keyTok)
				}
				v, err := decodeJSON(dec)
				if err != nil {
					return value.Value{}, err
				}
				m.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return value.Value{}, err
			}
			return value.MapValue(m), nil
		case '[':
			var items []value.Value
			for dec.More() {
				v, err := decodeJSON(dec)
				if err != nil {
					return value.Value{}, err
				}
				items = append(items, v)
			}
			if _, err := dec.Token(); err != nil {
				return value.Value{}, err
			}
			return value.Sequence(items...), nil
		}
		return value.Value{}, fmt.Errorf("unexpected delimiter %q", t)
	default:
		return value.FromInterface(t)
	}
}

func parseYAML(data []byte) (value.Value, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []value.Value
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return value.Value{}, fmt.Errorf("unmarshaling YAML: %w", err)
		}
		v, err := fromYAMLNode(&node)
		if err != nil {
			return value.Value{}, fmt.Errorf("unmarshaling YAML: %w", err)
		}
		docs = append(docs, v)
	}
	switch len(docs) {
	case 0:
		return value.Null(), nil
	case 1:
		return docs[0], nil
	}
	return value.Sequence(docs...), nil
}

func fromYAMLNode(n *yaml.Node) (value.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return value.Null(), nil
		}
		return fromYAMLNode(n.Content[0])
	case yaml.AliasNode:
		return fromYAMLNode(n.Alias)
	case yaml.SequenceNode:
		items := make([]value.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromYAMLNode(c)
			if err != nil {
				return value.Value{}, err
			}
			items = append(items, v)
		}
		return value.Sequence(items...), nil
	case yaml.MappingNode:
		m := value.NewMap()
		var merges []*yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.ShortTag() == "!!merge" {
				merges = append(merges, v)
				continue
			}
			val, err := fromYAMLNode(v)
			if err != nil {
				return value.Value{}, err
			}
			m.Set(k.Value, val)
		}
		for _, src := range merges {
			if err := mergeYAML(m, src); err != nil {
				return value.Value{}, err
			}
		}
		return value.MapValue(m), nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return value.Null(), nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return value.Value{}, err
			}
			return value.Bool(b), nil
		case "!!int", "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return value.Value{}, err
			}
			return value.Number(f), nil
		}
		return value.String(n.Value), nil
	}
	return value.Value{}, fmt.Errorf("unsupported YAML node kind %d at line %d", n.Kind, n.Line)
}

// mergeYAML applies a "<<" merge: keys already present win.
func mergeYAML(dst *value.Map, src *yaml.Node) error {
	if src.Kind == yaml.AliasNode {
		src = src.Alias
	}
	if src.Kind == yaml.SequenceNode {
		for _, c := range src.Content {
			if err := mergeYAML(dst, c); err != nil {
				return err
			}
		}
		return nil
	}
	v, err := fromYAMLNode(src)
	if err != nil {
		return err
	}
	m, ok := v.AsMap()
	if !ok {
		return fmt.Errorf("merge key at line %d does not reference a mapping", src.Line)
	}
	m.Range(func(k string, e value.Value) bool {
		if !dst.Has(k) {
			dst.Set(k, e)
		}
		return true
	})
	return nil
}

// parseCSV maps every row after the header to an object keyed by column.
func parseCSV(data []byte) (value.Value, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return value.Value{}, fmt.Errorf("reading CSV: %w", err)
	}
	if len(rows) == 0 {
		return value.Sequence(), nil
	}

	header := rows[0]
	items := make([]value.Value, 0, len(rows)-1)
	for _, row := range rows[1:] {
		m := value.NewMap()
		for i, col := range header {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			m.Set(col, value.String(cell))
		}
		items = append(items, value.MapValue(m))
	}
	return value.Sequence(items...), nil
}

// parseINI puts keys of the default section at the top level and every
// named section under its own key.
func parseINI(data []byte) (value.Value, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, data)
	if err != nil {
		return value.Value{}, fmt.Errorf("reading INI: %w", err)
	}

	root := value.NewMap()
	for _, section := range cfg.Sections() {
		target := root
		if section.Name() != ini.DefaultSection {
			target = value.NewMap()
		}
		for _, key := range section.Keys() {
			target.Set(key.Name(), value.String(key.Value()))
		}
		if section.Name() != ini.DefaultSection {
			root.Set(section.Name(), value.MapValue(target))
		}
	}
	return value.MapValue(root), nil
}
