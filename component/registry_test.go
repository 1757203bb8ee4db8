package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/registry"
)

func newNothing(*Context) (any, error) { return struct{}{}, nil }

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		reg     *Registration
		wantErr bool
	}{
		{"valid", &Registration{Name: "greeter", Version: "1.2.0", New: newNothing}, false},
		{"no version", &Registration{Name: "plain", New: newNothing}, false},
		{"nil registration", nil, true},
		{"bad name", &Registration{Name: "has space", New: newNothing}, true},
		{"no constructor", &Registration{Name: "empty"}, true},
		{"bad version", &Registration{Name: "versioned", Version: "one", New: newNothing}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.reg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterWithConfig(RegistrationConfig{Name: "greeter", New: newNothing}))

	err := r.RegisterWithConfig(RegistrationConfig{Name: "greeter", New: newNothing})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicate)
}

func TestRegistry_LookupAndList(t *testing.T) {
	r := NewRegistry()
	bind := func(any, registry.Handle, any) error { return nil }
	require.NoError(t, r.RegisterWithConfig(RegistrationConfig{
		Name:     "zeta",
		New:      newNothing,
		Bindings: map[string]BindFunc{"setLog": bind, "addHandler": bind},
	}))
	require.NoError(t, r.RegisterWithConfig(RegistrationConfig{Name: "alpha", New: newNothing, Version: "0.1.0"}))

	reg, err := r.Lookup("zeta")
	require.NoError(t, err)
	assert.Equal(t, "zeta", reg.Name)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, errors.ErrUnknownImplementation)

	list := r.ListAvailable()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, []string{"addHandler", "setLog"}, list[1].Bindings)

	assert.True(t, r.Unregister("alpha"))
	assert.False(t, r.Unregister("alpha"))
	assert.Len(t, r.ListAvailable(), 1)
}
