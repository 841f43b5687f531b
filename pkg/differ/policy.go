package differ

import (
	"fmt"
	"math"
	"regexp"
)

// PolicyError reports an invalid comparison setting. It is returned before
// any comparison work starts.
type PolicyError struct {
	Field string
	Value string
	Err   error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *PolicyError) Unwrap() error { return e.Err }

// PolicyOptions is the caller-facing form of a Policy.
type PolicyOptions struct {
	Epsilon         float64
	IgnoreKeysRegex string
	ArrayIDKey      string
	Path            string
	SortByMagnitude bool
}

// Policy controls what counts as a difference. It is read-only once built.
type Policy struct {
	Epsilon         float64
	IgnoreKeys      *regexp.Regexp
	ArrayIDKey      string
	Scope           *PathExpr
	SortByMagnitude bool
}

// DefaultPolicy compares exactly, ignores nothing and keeps natural order.
func DefaultPolicy() *Policy {
	return &Policy{}
}

func NewPolicy(opts PolicyOptions) (*Policy, error) {
	if math.IsNaN(opts.Epsilon) || math.IsInf(opts.Epsilon, 0) || opts.Epsilon < 0 {
		return nil, &PolicyError{
			Field: "epsilon",
			Value: fmt.Sprint(opts.Epsilon),
			Err:   fmt.Errorf("must be a finite number >= 0"),
		}
	}

	p := &Policy{
		Epsilon:         opts.Epsilon,
		ArrayIDKey:      opts.ArrayIDKey,
		SortByMagnitude: opts.SortByMagnitude,
	}

	if opts.IgnoreKeysRegex != "" {
		re, err := regexp.Compile(opts.IgnoreKeysRegex)
		if err != nil {
			return nil, &PolicyError{Field: "ignore-keys regex", Value: opts.IgnoreKeysRegex, Err: err}
		}
		p.IgnoreKeys = re
	}

	if opts.Path != "" {
		expr, err := ParsePath(opts.Path)
		if err != nil {
			return nil, &PolicyError{Field: "path", Value: opts.Path, Err: err}
		}
		p.Scope = expr
	}

	return p, nil
}

func (p *Policy) ignored(key string) bool {
	return p.IgnoreKeys != nil && p.IgnoreKeys.MatchString(key)
}

// NumbersEqual applies the epsilon tolerance. NaN equals NaN and equal
// infinities are equal.
func (p *Policy) NumbersEqual(a, b float64) bool {
	if a == b || (math.IsNaN(a) && math.IsNaN(b)) {
		return true
	}
	return math.Abs(a-b) <= p.Epsilon
}

// visits reports whether the subtree at segs can contain in-scope paths.
func (p *Policy) visits(segs []Segment) bool {
	return p.Scope == nil || p.Scope.Related(segs)
}

// reports reports whether a record at segs is inside the scope.
func (p *Policy) reports(segs []Segment) bool {
	return p.Scope == nil || p.Scope.Contains(segs)
}
