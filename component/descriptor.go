package component

import (
	"fmt"
	"regexp"

	"github.com/c360/semwire/errors"
)

// Cardinality declares how many services a reference binds.
type Cardinality string

// Supported cardinalities.
const (
	OptionalUnary     Cardinality = "0..1"
	MandatoryUnary    Cardinality = "1..1"
	OptionalMultiple  Cardinality = "0..n"
	MandatoryMultiple Cardinality = "1..n"
)

// Optional reports whether zero bound services is acceptable.
func (c Cardinality) Optional() bool {
	return c == OptionalUnary || c == OptionalMultiple
}

// Multiple reports whether more than one service may be bound.
func (c Cardinality) Multiple() bool {
	return c == OptionalMultiple || c == MandatoryMultiple
}

func (c Cardinality) valid() bool {
	switch c {
	case OptionalUnary, MandatoryUnary, OptionalMultiple, MandatoryMultiple:
		return true
	}
	return false
}

// Policy declares whether bindings may change while an instance lives.
type Policy string

// Supported policies.
const (
	PolicyStatic  Policy = "static"
	PolicyDynamic Policy = "dynamic"
)

// ReferenceDescriptor declares one service dependency of a component.
type ReferenceDescriptor struct {
	Name        string      `json:"name" yaml:"name"`
	Interface   string      `json:"interface" yaml:"interface"`
	Target      string      `json:"target,omitempty" yaml:"target,omitempty"`
	Cardinality Cardinality `json:"cardinality,omitempty" yaml:"cardinality,omitempty"`
	Policy      Policy      `json:"policy,omitempty" yaml:"policy,omitempty"`
	Bind        string      `json:"bind,omitempty" yaml:"bind,omitempty"`
	Unbind      string      `json:"unbind,omitempty" yaml:"unbind,omitempty"`
}

// Optional reports whether the reference may be left unbound.
func (r ReferenceDescriptor) Optional() bool { return r.cardinality().Optional() }

// Multiple reports whether the reference binds every candidate.
func (r ReferenceDescriptor) Multiple() bool { return r.cardinality().Multiple() }

// Dynamic reports whether the reference rebinds without reactivation.
func (r ReferenceDescriptor) Dynamic() bool { return r.Policy == PolicyDynamic }

func (r ReferenceDescriptor) cardinality() Cardinality {
	if r.Cardinality == "" {
		return MandatoryUnary
	}
	return r.Cardinality
}

// TargetProperty is the component property that overrides the target filter.
func (r ReferenceDescriptor) TargetProperty() string { return r.Name + ".target" }

// Validate checks the reference declaration.
func (r ReferenceDescriptor) Validate() error {
	if !namePattern.MatchString(r.Name) {
		return errors.WrapInvalid(fmt.Errorf("invalid reference name %q", r.Name),
			"ReferenceDescriptor", "Validate", "name check")
	}
	if r.Interface == "" {
		return errors.WrapInvalid(fmt.Errorf("reference %s has no interface", r.Name),
			"ReferenceDescriptor", "Validate", "interface check")
	}
	if !r.cardinality().valid() {
		return errors.WrapInvalid(fmt.Errorf("reference %s: unknown cardinality %q", r.Name, r.Cardinality),
			"ReferenceDescriptor", "Validate", "cardinality check")
	}
	if r.Policy != "" && r.Policy != PolicyStatic && r.Policy != PolicyDynamic {
		return errors.WrapInvalid(fmt.Errorf("reference %s: unknown policy %q", r.Name, r.Policy),
			"ReferenceDescriptor", "Validate", "policy check")
	}
	return nil
}

// ServiceDescriptor lists the interfaces a component provides.
type ServiceDescriptor struct {
	Interfaces []string `json:"interfaces" yaml:"interfaces"`
}

// Descriptor is the declarative definition of a component.
type Descriptor struct {
	Name           string                `json:"name" yaml:"name"`
	Implementation string                `json:"implementation" yaml:"implementation"`
	Enabled        *bool                 `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Immediate      *bool                 `json:"immediate,omitempty" yaml:"immediate,omitempty"`
	Factory        string                `json:"factory,omitempty" yaml:"factory,omitempty"`
	Properties     map[string]any        `json:"properties,omitempty" yaml:"properties,omitempty"`
	Service        *ServiceDescriptor    `json:"service,omitempty" yaml:"service,omitempty"`
	References     []ReferenceDescriptor `json:"references,omitempty" yaml:"references,omitempty"`
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

// IsEnabled reports whether the component is enabled when loaded. Default true.
func (d Descriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// IsImmediate reports whether the instance is created as soon as the
// component is satisfied. Components without a service are always
// immediate; components with a service default to delayed.
func (d Descriptor) IsImmediate() bool {
	if d.Service == nil {
		return true
	}
	if d.Immediate != nil {
		return *d.Immediate
	}
	return false
}

// IsFactory reports whether the component is a factory component.
func (d Descriptor) IsFactory() bool { return d.Factory != "" }

// IsDelayed reports whether the service is registered before the instance exists.
func (d Descriptor) IsDelayed() bool {
	return !d.IsFactory() && !d.IsImmediate()
}

// Validate checks the descriptor and its references.
func (d Descriptor) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return errors.WrapInvalid(fmt.Errorf("invalid component name %q", d.Name),
			"Descriptor", "Validate", "name check")
	}
	if d.Implementation == "" {
		return errors.WrapInvalid(fmt.Errorf("component %s has no implementation", d.Name),
			"Descriptor", "Validate", "implementation check")
	}
	if d.Service != nil && len(d.Service.Interfaces) == 0 {
		return errors.WrapInvalid(fmt.Errorf("component %s declares a service without interfaces", d.Name),
			"Descriptor", "Validate", "service check")
	}
	if d.Service == nil && d.Immediate != nil && !*d.Immediate {
		return errors.WrapInvalid(fmt.Errorf("component %s is delayed but provides no service", d.Name),
			"Descriptor", "Validate", "immediate check")
	}

	seen := make(map[string]bool, len(d.References))
	for _, ref := range d.References {
		if err := ref.Validate(); err != nil {
			return errors.Wrap(err, "Descriptor", "Validate", "reference check")
		}
		if seen[ref.Name] {
			return errors.WrapInvalid(fmt.Errorf("component %s: duplicate reference %s", d.Name, ref.Name),
				"Descriptor", "Validate", "reference check")
		}
		seen[ref.Name] = true
	}
	return nil
}

// target returns the effective target filter of ref under props.
func target(ref ReferenceDescriptor, props map[string]any) string {
	if v, ok := props[ref.TargetProperty()].(string); ok {
		return v
	}
	return ref.Target
}
