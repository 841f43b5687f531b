package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wonderfulspam/model-smith/pkg/value"
)

// xmlElement collects one element while the document is streamed.
type xmlElement struct {
	name     string
	attrs    []xml.Attr
	children []*xmlElement
	text     strings.Builder
}

// parseXML maps the document to {root: element}. An element becomes a map
// with "@attr" entries, child elements by name (a sequence when a name
// repeats) and "#text" for text mixed with children. A leaf element without
// attributes is just its text.
func parseXML(data []byte) (value.Value, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*xmlElement
	var root *xmlElement

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return value.Value{}, fmt.Errorf("reading XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &xmlElement{name: t.Name.Local, attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			} else if root == nil {
				root = el
			} else {
				return value.Value{}, errors.New("reading XML: multiple root elements")
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return value.Value{}, errors.New("reading XML: no root element")
	}

	m := value.NewMap()
	m.Set(root.name, root.toValue())
	return value.MapValue(m), nil
}

func (e *xmlElement) toValue() value.Value {
	text := strings.TrimSpace(e.text.String())
	if len(e.attrs) == 0 && len(e.children) == 0 {
		return value.String(text)
	}

	m := value.NewMap()
	for _, a := range e.attrs {
		m.Set("@"+a.Name.Local, value.String(a.Value))
	}

	var order []string
	groups := make(map[string][]value.Value)
	for _, c := range e.children {
		if _, seen := groups[c.name]; !seen {
			order = append(order, c.name)
		}
		groups[c.name] = append(groups[c.name], c.toValue())
	}
	for _, name := range order {
		items := groups[name]
		if len(items) == 1 {
			m.Set(name, items[0])
		} else {
			m.Set(name, value.Sequence(items...))
		}
	}

	if text != "" {
		m.Set("#text", value.String(text))
	}
	return value.MapValue(m)
}
