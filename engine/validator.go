package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/registry"
)

// Validator checks a set of descriptors before they are loaded: each must
// be well formed, name a registered implementation and carry compilable
// targets. It also links mandatory references to the components that
// provide them and reports references nothing local provides and cycles
// that can never activate.
type Validator struct {
	implementations *component.Registry
	logger          *slog.Logger
}

// NewValidator creates a validator over an implementation registry.
func NewValidator(implementations *component.Registry, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{implementations: implementations, logger: logger}
}

// ValidationResult contains the results of descriptor validation
type ValidationResult struct {
	Status   string            `json:"validation_status"` // "valid", "warnings", "errors"
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
	Links    []Link            `json:"links"`
}

// Link is a reference that a component in the same set can satisfy
type Link struct {
	From      string `json:"from"`
	Reference string `json:"reference"`
	To        string `json:"to"`
	Interface string `json:"interface"`
	Mandatory bool   `json:"mandatory"`
}

// ValidationIssue represents a single validation problem
type ValidationIssue struct {
	Type          string   `json:"type"`     // "invalid_descriptor", "unknown_implementation", ...
	Severity      string   `json:"severity"` // "error", "warning"
	ComponentName string   `json:"component_name"`
	Reference     string   `json:"reference,omitempty"`
	Message       string   `json:"message"`
	Suggestions   []string `json:"suggestions,omitempty"`
}

// ValidationError wraps a result that carries errors
type ValidationError struct {
	Result *ValidationResult
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors))
	for _, issue := range e.Result.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", issue.ComponentName, issue.Message))
	}
	return "descriptor validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks descriptors as a set.
func (v *Validator) Validate(descs []component.Descriptor) *ValidationResult {
	result := &ValidationResult{
		Status:   "valid",
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
		Links:    []Link{},
	}

	seen := make(map[string]bool, len(descs))
	valid := make([]component.Descriptor, 0, len(descs))
	for _, d := range descs {
		if seen[d.Name] {
			result.addError(ValidationIssue{
				Type:          "duplicate_component",
				ComponentName: d.Name,
				Message:       "Component name is used more than once",
			})
			continue
		}
		seen[d.Name] = true

		if err := d.Validate(); err != nil {
			result.addError(ValidationIssue{
				Type:          "invalid_descriptor",
				ComponentName: d.Name,
				Message:       err.Error(),
			})
			continue
		}
		if v.implementations != nil {
			if _, err := v.implementations.Lookup(d.Implementation); err != nil {
				result.addError(ValidationIssue{
					Type:          "unknown_implementation",
					ComponentName: d.Name,
					Message:       fmt.Sprintf("Unknown implementation: %s", d.Implementation),
					Suggestions: []string{
						"Check that the implementation is registered",
						"Verify the implementation name spelling",
					},
				})
				continue
			}
		}
		v.checkTargets(d, result)
		valid = append(valid, d)
	}

	v.link(valid, result)

	switch {
	case len(result.Errors) > 0:
		result.Status = "errors"
	case len(result.Warnings) > 0:
		result.Status = "warnings"
	}

	v.logger.Debug("Descriptor validation complete",
		"status", result.Status,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings),
		"links", len(result.Links))
	return result
}

func (v *Validator) checkTargets(d component.Descriptor, result *ValidationResult) {
	for _, ref := range d.References {
		target := ref.Target
		if override, ok := d.Properties[ref.TargetProperty()].(string); ok {
			target = override
		}
		if target == "" {
			continue
		}
		if _, err := registry.CompileFilter(target); err != nil {
			result.addError(ValidationIssue{
				Type:          "bad_target",
				ComponentName: d.Name,
				Reference:     ref.Name,
				Message:       err.Error(),
			})
		}
	}
}

// link resolves references against the interfaces the set provides.
// Targets are not evaluated; service properties are only known once
// components register.
func (v *Validator) link(descs []component.Descriptor, result *ValidationResult) {
	providers := make(map[string][]string)
	for _, d := range descs {
		for _, iface := range provided(d) {
			providers[iface] = append(providers[iface], d.Name)
		}
	}

	requires := make(map[string][]string)
	for _, d := range descs {
		for _, ref := range d.References {
			names := providers[ref.Interface]
			for _, to := range names {
				result.Links = append(result.Links, Link{
					From:      d.Name,
					Reference: ref.Name,
					To:        to,
					Interface: ref.Interface,
					Mandatory: !ref.Optional(),
				})
			}
			if len(names) == 1 && !ref.Optional() && names[0] != d.Name {
				requires[d.Name] = append(requires[d.Name], names[0])
			}
			if len(names) == 0 && !ref.Optional() {
				result.addWarning(ValidationIssue{
					Type:          "unprovided_reference",
					ComponentName: d.Name,
					Reference:     ref.Name,
					Message:       fmt.Sprintf("No component in this runtime provides %s", ref.Interface),
					Suggestions: []string{
						"Import the service from a remote runtime",
						"Register the service outside the component runtime",
					},
				})
			}
		}
	}

	for _, cycle := range mandatoryCycles(requires) {
		result.addWarning(ValidationIssue{
			Type:          "mandatory_cycle",
			ComponentName: cycle[0],
			Message:       "Mandatory references form a cycle: " + strings.Join(cycle, " -> "),
			Suggestions:   []string{"Make one reference in the cycle optional"},
		})
	}
}

// provided returns the interfaces a descriptor registers
func provided(d component.Descriptor) []string {
	if d.IsFactory() {
		return []string{component.FactoryInterface}
	}
	if d.Service == nil {
		return nil
	}
	return d.Service.Interfaces
}

// mandatoryCycles finds cycles in which every component needs the next.
// requires only holds sole providers of mandatory references; a reference
// with alternatives may be satisfied around the cycle at runtime.
func mandatoryCycles(requires map[string][]string) [][]string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var stack []string
	var cycles [][]string

	var visit func(string)
	visit = func(n string) {
		color[n] = grey
		stack = append(stack, n)
		for _, next := range requires[n] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				start := slices.Index(stack, next)
				cycle := append(slices.Clone(stack[start:]), next)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	names := make([]string, 0, len(requires))
	for n := range requires {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

func (r *ValidationResult) addError(issue ValidationIssue) {
	issue.Severity = "error"
	r.Errors = append(r.Errors, issue)
}

func (r *ValidationResult) addWarning(issue ValidationIssue) {
	issue.Severity = "warning"
	r.Warnings = append(r.Warnings, issue)
}
