// Package filter decides which class entries are worth parsing.
package filter

import (
	"errors"
	"fmt"

	regexp "github.com/wasilibs/go-re2"
)

// ErrConflictingFilters is returned by New when both a pattern and a script
// are configured.
var ErrConflictingFilters = errors.New("pattern and script filters are mutually exclusive")

// Evaluator accepts or rejects a candidate class entry name such as
// "com/foo/Status.class". It has no side effects on the scan.
type Evaluator interface {
	Accepts(name string) (bool, error)
}

// Options selects an Evaluator. At most one field may be set.
type Options struct {
	Pattern string
	Script  string
}

// String describes the selection, e.g. "pattern(Status\.class$)". Scans
// with equal descriptions accept the same names.
func (o Options) String() string {
	switch {
	case o.Pattern != "" && o.Script != "":
		return "conflicting"
	case o.Pattern != "":
		return "pattern(" + o.Pattern + ")"
	case o.Script != "":
		return "script(" + o.Script + ")"
	default:
		return "accept-all"
	}
}

// New picks the evaluator for opts once at startup: a pattern filter, an
// expression script, or accept-all when neither is configured.
func New(opts Options) (Evaluator, error) {
	switch {
	case opts.Pattern != "" && opts.Script != "":
		return nil, ErrConflictingFilters
	case opts.Pattern != "":
		return NewPattern(opts.Pattern)
	case opts.Script != "":
		pred, err := CompileExpr(opts.Script)
		if err != nil {
			return nil, err
		}
		return NewScript(pred), nil
	default:
		return AcceptAll{}, nil
	}
}

// AcceptAll accepts every name.
type AcceptAll struct{}

func (AcceptAll) Accepts(string) (bool, error) { return true, nil }

func (AcceptAll) String() string { return "accept-all" }

// Pattern accepts names the expression matches anywhere. The zero value has
// no expression and rejects everything.
type Pattern struct {
	re  *regexp.Regexp
	src string
}

// NewPattern compiles expr with RE2 semantics. An empty expr yields a Pattern
// that rejects everything.
func NewPattern(expr string) (*Pattern, error) {
	if expr == "" {
		return &Pattern{}, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling class name pattern %q: %w", expr, err)
	}
	return &Pattern{re: re, src: expr}, nil
}

func (p *Pattern) Accepts(name string) (bool, error) {
	if p.re == nil {
		return false, nil
	}
	return p.re.MatchString(name), nil
}

func (p *Pattern) String() string {
	return "pattern(" + p.src + ")"
}

// Predicate is an externally supplied decision function.
type Predicate func(name string) (bool, error)

// Script delegates to a Predicate. Predicate errors are wrapped with the
// candidate name and abort the scan.
type Script struct {
	pred Predicate
}

func NewScript(pred Predicate) *Script {
	return &Script{pred: pred}
}

func (s *Script) Accepts(name string) (bool, error) {
	if s.pred == nil {
		return false, fmt.Errorf("script filter has no predicate")
	}
	ok, err := s.pred(name)
	if err != nil {
		return false, fmt.Errorf("evaluating filter script for %s: %w", name, err)
	}
	return ok, nil
}

func (s *Script) String() string { return "script" }
