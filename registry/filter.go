package registry

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/c360/semwire/errors"
)

// Filter is a compiled target filter. Filters are expr boolean expressions
// evaluated against service properties:
//
//	vendor == "acme" && semver(version, ">=1.2.0")
//	"log.Sink" in objectclass
//	$env["service.ranking"] > 10
//
// Properties missing from a service evaluate to nil. A filter that errors
// at runtime or does not produce a bool does not match.
type Filter struct {
	source  string
	program *vm.Program
}

var filterFunctions = []expr.Option{
	expr.Function("semver", semverMatch, new(func(any, string) bool)),
	expr.AllowUndefinedVariables(),
}

// CompileFilter compiles src. An empty source yields a nil filter that
// matches every service.
func CompileFilter(src string) (*Filter, error) {
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, filterFunctions...)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w %q: %v", errors.ErrFilterSyntax, src, err),
			"registry", "CompileFilter", "compile filter")
	}
	return &Filter{source: src, program: program}, nil
}

// Match reports whether props satisfy the filter. A nil filter matches.
func (f *Filter) Match(props Properties) bool {
	if f == nil {
		return true
	}
	out, err := expr.Run(f.program, map[string]any(props))
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// String returns the filter source.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// semverMatch implements semver(version, constraint).
func semverMatch(params ...any) (any, error) {
	if len(params) != 2 || params[0] == nil {
		return false, nil
	}
	raw, ok := params[0].(string)
	if !ok {
		raw = fmt.Sprint(params[0])
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return false, nil
	}
	constraint, ok := params[1].(string)
	if !ok {
		return false, fmt.Errorf("semver constraint must be a string")
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}
