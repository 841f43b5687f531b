package differ

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type SegmentKind int

const (
	SegKey SegmentKind = iota
	SegIndex
	SegID
	SegWildcard
)

// Segment is one step of a path: a map key, a sequence index, an identity
// selector (key=value) or a wildcard. Identified elements also carry their
// positions so that a positional expression can still select them; NewIndex
// equals Index unless the element moved.
type Segment struct {
	Kind     SegmentKind
	Key      string
	Index    int
	NewIndex int
	ID       string
}

// matches compares an expression segment s with a walked segment o.
func (s Segment) matches(o Segment) bool {
	if s.Kind == SegWildcard || o.Kind == SegWildcard {
		return true
	}
	if s.Kind == SegIndex && o.Kind == SegID {
		return s.Index == o.Index || s.Index == o.NewIndex
	}
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case SegKey:
		return s.Key == o.Key
	case SegIndex:
		return s.Index == o.Index
	case SegID:
		return s.Key == o.Key && s.ID == o.ID
	}
	return false
}

// PathExpr is a parsed dotted/bracketed path such as layers[2].weight or
// model.*.bias.
type PathExpr struct {
	raw  string
	segs []Segment
}

func (p *PathExpr) String() string { return p.raw }

func (p *PathExpr) Segments() []Segment { return p.segs }

// Contains reports whether path lies at or below the expression.
func (p *PathExpr) Contains(path []Segment) bool {
	if len(path) < len(p.segs) {
		return false
	}
	for i, s := range p.segs {
		if !s.matches(path[i]) {
			return false
		}
	}
	return true
}

// Related reports whether path is an ancestor of, equal to or below the
// expression.
func (p *PathExpr) Related(path []Segment) bool {
	n := len(path)
	if len(p.segs) < n {
		n = len(p.segs)
	}
	for i := 0; i < n; i++ {
		if !p.segs[i].matches(path[i]) {
			return false
		}
	}
	return true
}

var errEmptySegment = errors.New("empty path segment")

func ParsePath(s string) (*PathExpr, error) {
	expr := &PathExpr{raw: s}
	i := 0
	expectKey := true
	for i < len(s) {
		switch s[i] {
		case '.':
			if expectKey {
				return nil, fmt.Errorf("%w at offset %d", errEmptySegment, i)
			}
			i++
			expectKey = true
			if i == len(s) {
				return nil, fmt.Errorf("%w at end of path", errEmptySegment)
			}
		case '[':
			if i+1 < len(s) && s[i+1] == '"' {
				key, n, err := parseQuotedKey(s[i+1:])
				if err != nil {
					return nil, fmt.Errorf("at offset %d: %w", i, err)
				}
				expr.segs = append(expr.segs, Segment{Kind: SegKey, Key: key})
				i += n + 1
				expectKey = false
				continue
			}
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '[' at offset %d", i)
			}
			seg, err := parseBracket(s[i+1 : i+end])
			if err != nil {
				return nil, err
			}
			expr.segs = append(expr.segs, seg)
			i += end + 1
			expectKey = false
		case ']':
			return nil, fmt.Errorf("unexpected ']' at offset %d", i)
		default:
			if !expectKey {
				return nil, fmt.Errorf("missing '.' before offset %d", i)
			}
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != ']' {
				j++
			}
			key := s[i:j]
			if key == "*" {
				expr.segs = append(expr.segs, Segment{Kind: SegWildcard})
			} else {
				expr.segs = append(expr.segs, Segment{Kind: SegKey, Key: key})
			}
			i = j
			expectKey = false
		}
	}
	if len(expr.segs) == 0 {
		return nil, errors.New("path is empty")
	}
	return expr, nil
}

// parseQuotedKey reads `"a.b"]` and returns the key and the bytes consumed.
func parseQuotedKey(s string) (string, int, error) {
	q, err := strconv.QuotedPrefix(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid quoted key: %w", err)
	}
	if len(s) == len(q) || s[len(q)] != ']' {
		return "", 0, errors.New("quoted key must be followed by ']'")
	}
	key, err := strconv.Unquote(q)
	if err != nil {
		return "", 0, err
	}
	return key, len(q) + 1, nil
}

func parseBracket(body string) (Segment, error) {
	body = strings.TrimSpace(body)
	switch {
	case body == "*":
		return Segment{Kind: SegWildcard}, nil
	case strings.Contains(body, "="):
		k, v, _ := strings.Cut(body, "=")
		if k == "" {
			return Segment{}, fmt.Errorf("identity selector %q has no key", body)
		}
		return Segment{Kind: SegID, Key: k, ID: v}, nil
	}
	n, err := strconv.Atoi(body)
	if err != nil || n < 0 {
		return Segment{}, fmt.Errorf("invalid index %q", body)
	}
	return Segment{Kind: SegIndex, Index: n}, nil
}

func appendSeg(segs []Segment, s Segment) []Segment {
	out := make([]Segment, len(segs)+1)
	copy(out, segs)
	out[len(segs)] = s
	return out
}
