package component

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	semerrors "github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/registry"
)

type shapes struct {
	calls []string
}

func (s *shapes) ByHandle(h registry.Handle) { s.calls = append(s.calls, "handle") }
func (s *shapes) ByExact(l *memLog) { s.calls = append(s.calls, "exact:"+l.name) }
func (s *shapes) ByInterface(l LogService) { s.calls = append(s.calls, "iface:"+l.Name()) }
func (s *shapes) ByAny(v any) error {
	s.calls = append(s.calls, "any")
	return nil
}
func (s *shapes) Failing(LogService) error { return errors.New("refused") }
func (s *shapes) Panicking(LogService) { panic("bind exploded") }
func (s *shapes) TwoResults(LogService) (int, error) { return 0, nil }
func (s *shapes) WithProps(l LogService, p registry.Properties) {
	s.calls = append(s.calls, "props:"+p["name"].(string))
}

func TestMethodInvoker_Shapes(t *testing.T) {
	inv, err := NewMethodInvoker(metric.NewMetricsRegistry())
	require.NoError(t, err)

	target := &shapes{}
	svc := &memLog{name: "a"}
	h := registry.Handle{ID: 1, Properties: registry.Properties{"name": "a"}}

	for _, method := range []string{"ByHandle", "ByExact", "ByInterface", "ByAny", "WithProps"} {
		require.NoError(t, inv.Invoke(target, method, h, svc), method)
	}
	assert.Equal(t, []string{"handle", "exact:a", "iface:a", "any", "props:a"}, target.calls)

	// cached plans resolve the same way
	require.NoError(t, inv.Invoke(target, "ByExact", h, svc))
	assert.Equal(t, "exact:a", target.calls[len(target.calls)-1])
}

func TestMethodInvoker_Failures(t *testing.T) {
	inv, err := NewMethodInvoker(nil)
	require.NoError(t, err)

	target := &shapes{}
	svc := &memLog{name: "a"}
	h := registry.Handle{ID: 1}

	tests := []struct {
		name    string
		method  string
		target  any
		service any
		wantErr error
	}{
		{"missing", "Nope", target, svc, semerrors.ErrMissingBindingMethod},
		{"wrong parameter", "ByExact", target, "not a log", semerrors.ErrMissingBindingMethod},
		{"two results", "TwoResults", target, svc, semerrors.ErrMissingBindingMethod},
		{"returns error", "Failing", target, svc, semerrors.ErrBindInvocation},
		{"panics", "Panicking", target, svc, semerrors.ErrBindInvocation},
		{"nil instance", "ByHandle", nil, svc, semerrors.ErrMissingBindingMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := inv.Invoke(tt.target, tt.method, h, tt.service)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFuncInvoker(t *testing.T) {
	var got []string
	inv := FuncInvoker{
		"bind": func(_ any, h registry.Handle, svc any) error {
			got = append(got, svc.(LogService).Name())
			return nil
		},
		"broken": func(any, registry.Handle, any) error { return errors.New("no") },
		"panics": func(any, registry.Handle, any) error { panic("boom") },
	}

	require.NoError(t, inv.Invoke(nil, "bind", registry.Handle{}, &memLog{name: "x"}))
	assert.Equal(t, []string{"x"}, got)

	assert.ErrorIs(t, inv.Invoke(nil, "missing", registry.Handle{}, nil), semerrors.ErrMissingBindingMethod)
	assert.ErrorIs(t, inv.Invoke(nil, "broken", registry.Handle{}, nil), semerrors.ErrBindInvocation)
	assert.ErrorIs(t, inv.Invoke(nil, "panics", registry.Handle{}, nil), semerrors.ErrBindInvocation)
}
