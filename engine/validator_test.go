package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/component"
)

func validatorImplementations(t *testing.T) *component.Registry {
	t.Helper()
	impls := component.NewRegistry()
	for _, name := range []string{"store", "client"} {
		require.NoError(t, impls.RegisterWithConfig(component.RegistrationConfig{
			Name: name,
			New:  func(*component.Context) (any, error) { return struct{}{}, nil },
		}))
	}
	return impls
}

func provider(name, iface string, refs ...component.ReferenceDescriptor) component.Descriptor {
	return component.Descriptor{
		Name:           name,
		Implementation: "store",
		Service:        &component.ServiceDescriptor{Interfaces: []string{iface}},
		References:     refs,
	}
}

func consumer(name string, refs ...component.ReferenceDescriptor) component.Descriptor {
	return component.Descriptor{Name: name, Implementation: "client", References: refs}
}

func issueTypes(issues []ValidationIssue) []string {
	types := make([]string, 0, len(issues))
	for _, i := range issues {
		types = append(types, i.Type)
	}
	return types
}

func TestValidator(t *testing.T) {
	tests := []struct {
		name     string
		descs    []component.Descriptor
		status   string
		errors   []string
		warnings []string
		links    int
	}{
		{
			name: "linked set",
			descs: []component.Descriptor{
				provider("kv", "storage.Store"),
				consumer("app", component.ReferenceDescriptor{Name: "store", Interface: "storage.Store"}),
			},
			status: "valid",
			links:  1,
		},
		{
			name: "duplicate names",
			descs: []component.Descriptor{
				provider("kv", "storage.Store"),
				provider("kv", "storage.Store"),
			},
			status: "errors",
			errors: []string{"duplicate_component"},
		},
		{
			name:   "invalid descriptor",
			descs:  []component.Descriptor{{Name: "bad name!", Implementation: "store"}},
			status: "errors",
			errors: []string{"invalid_descriptor"},
		},
		{
			name:   "unknown implementation",
			descs:  []component.Descriptor{{Name: "ghost", Implementation: "missing"}},
			status: "errors",
			errors: []string{"unknown_implementation"},
		},
		{
			name: "target override does not compile",
			descs: []component.Descriptor{{
				Name:           "app",
				Implementation: "client",
				Properties:     map[string]any{"store.target": "region =="},
				References: []component.ReferenceDescriptor{
					{Name: "store", Interface: "storage.Store", Cardinality: component.OptionalUnary},
				},
			}},
			status: "errors",
			errors: []string{"bad_target"},
		},
		{
			name: "mandatory reference nothing provides",
			descs: []component.Descriptor{
				consumer("app", component.ReferenceDescriptor{Name: "store", Interface: "storage.Store"}),
			},
			status:   "warnings",
			warnings: []string{"unprovided_reference"},
		},
		{
			name: "optional reference nothing provides",
			descs: []component.Descriptor{
				consumer("app", component.ReferenceDescriptor{
					Name: "store", Interface: "storage.Store", Cardinality: component.OptionalUnary,
				}),
			},
			status: "valid",
		},
		{
			name: "mandatory cycle",
			descs: []component.Descriptor{
				provider("a", "svc.A", component.ReferenceDescriptor{Name: "b", Interface: "svc.B"}),
				provider("b", "svc.B", component.ReferenceDescriptor{Name: "a", Interface: "svc.A"}),
			},
			status:   "warnings",
			warnings: []string{"mandatory_cycle"},
			links:    2,
		},
		{
			name: "cycle broken by an optional reference",
			descs: []component.Descriptor{
				provider("a", "svc.A", component.ReferenceDescriptor{Name: "b", Interface: "svc.B"}),
				provider("b", "svc.B", component.ReferenceDescriptor{
					Name: "a", Interface: "svc.A", Cardinality: component.OptionalUnary,
				}),
			},
			status: "valid",
			links:  2,
		},
	}

	v := NewValidator(validatorImplementations(t), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.descs)
			assert.Equal(t, tt.status, result.Status)
			assert.ElementsMatch(t, tt.errors, issueTypes(result.Errors))
			assert.ElementsMatch(t, tt.warnings, issueTypes(result.Warnings))
			assert.Len(t, result.Links, tt.links)
		})
	}
}

func TestMandatoryCycles(t *testing.T) {
	cycles := mandatoryCycles(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
		"d": {"a"},
	})
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycles[0])

	assert.Empty(t, mandatoryCycles(map[string][]string{"a": {"b"}, "b": nil}))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Result: &ValidationResult{Errors: []ValidationIssue{
		{ComponentName: "ghost", Message: "Unknown implementation: missing"},
	}}}
	assert.Equal(t, "descriptor validation failed: ghost: Unknown implementation: missing", err.Error())
}
