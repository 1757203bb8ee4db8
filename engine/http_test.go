package engine_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/engine"
)

func newHTTPRuntime(t *testing.T) (*engine.Runtime, *httptest.Server) {
	t.Helper()
	rt := newRuntime(t)
	_, err := rt.Add(greeterDescriptor("greeter", map[string]any{"greeting": "hi"}))
	require.NoError(t, err)
	_, err = rt.Add(callerDescriptor("caller"))
	require.NoError(t, err)

	mux := http.NewServeMux()
	rt.RegisterHTTPHandlers("/components", mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return rt, srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPList(t *testing.T) {
	_, srv := newHTTPRuntime(t)

	resp := do(t, http.MethodGet, srv.URL+"/components/list", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Components []engine.ComponentStatus `json:"components"`
		Count      int                      `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Components, 2)
	assert.Equal(t, "greeter", body.Components[0].Name)
	assert.Equal(t, "caller", body.Components[1].Name)
	assert.Equal(t, "active", body.Components[1].State)
}

func TestHTTPStatus(t *testing.T) {
	_, srv := newHTTPRuntime(t)

	resp := do(t, http.MethodGet, srv.URL+"/components/status/caller", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status engine.ComponentStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "caller", status.Name)
	assert.Equal(t, "caller", status.Implementation)
	require.Len(t, status.References, 1)
	ref := status.References[0]
	assert.Equal(t, "greeter", ref.Name)
	assert.Equal(t, "1..1", ref.Cardinality)
	assert.Equal(t, "static", ref.Policy)
	assert.True(t, ref.Valid)
	assert.Len(t, ref.Bound, 1)
	assert.True(t, status.Health.IsHealthy())
	assert.Equal(t, 1.0, status.Counters["reference_binds_total"])
	assert.NotZero(t, status.Counters["component_transitions_total"])

	resp = do(t, http.MethodGet, srv.URL+"/components/status/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/components/status/caller", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPEnableDisable(t *testing.T) {
	rt, srv := newHTTPRuntime(t)

	resp := do(t, http.MethodPost, srv.URL+"/components/disable/greeter", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	state, err := rt.State("caller")
	require.NoError(t, err)
	assert.Equal(t, component.StateUnsatisfied, state)

	resp = do(t, http.MethodPost, srv.URL+"/components/enable/greeter", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	state, err = rt.State("caller")
	require.NoError(t, err)
	assert.Equal(t, component.StateActive, state)

	resp = do(t, http.MethodGet, srv.URL+"/components/enable/greeter", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/components/disable/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPConfig(t *testing.T) {
	rt, srv := newHTTPRuntime(t)

	resp := do(t, http.MethodPut, srv.URL+"/components/config/greeter", `{"greeting": "yo"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ctrl, ok := rt.Controller("greeter")
	require.True(t, ok)
	assert.Equal(t, "yo", ctrl.Properties()["greeting"])
	assert.Equal(t, "yo, al", callerOf(t, rt, "caller").Greeter().Greet("al"))

	resp = do(t, http.MethodPut, srv.URL+"/components/config/greeter", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/components/config/missing", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/components/config/greeter", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPImplementations(t *testing.T) {
	_, srv := newHTTPRuntime(t)

	resp := do(t, http.MethodGet, srv.URL+"/components/implementations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var infos []component.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"broken", "caller", "greeter"}, names)
}
