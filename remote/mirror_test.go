package remote

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/registry"
)

func newTestMirror(t *testing.T, reg *registry.Local, ttl time.Duration) *Mirror {
	t.Helper()
	m, err := NewMirror(MirrorConfig{
		RuntimeID: "node-b",
		Registry:  reg,
		TTL:       ttl,
		Metrics:   metric.NewMetricsRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(time.Second) })
	return m
}

func encode(t *testing.T, ep Endpoint) (string, []byte) {
	t.Helper()
	data, err := json.Marshal(ep)
	require.NoError(t, err)
	return ep.Key(), data
}

func peerEndpoint(id int64, announced time.Time) Endpoint {
	return Endpoint{
		Runtime:    "node-a",
		Session:    "s1",
		ServiceID:  id,
		Interfaces: []string{"storage.Store"},
		Properties: map[string]any{"region": "eu"},
		Announced:  announced,
	}
}

func imported(t *testing.T, reg *registry.Local) []registry.Handle {
	t.Helper()
	handles, err := reg.Query("storage.Store", `$env["service.imported"] == true`)
	require.NoError(t, err)
	return handles
}

func TestMirrorImportsEndpoint(t *testing.T) {
	reg := newTestRegistry(t)
	m := newTestMirror(t, reg, 0)

	key, data := encode(t, peerEndpoint(7, time.Now()))
	require.NoError(t, m.HandleEntry(key, data))

	handles := imported(t, reg)
	require.Len(t, handles, 1)
	h := handles[0]
	assert.Equal(t, "node-a", h.Property(PropImportedRuntime))
	assert.Equal(t, int64(7), h.Property(PropImportedID))
	assert.Equal(t, "eu", h.Property("region"))

	consumer := reg.Context("consumer")
	svc, ok := consumer.Retrieve(h)
	require.True(t, ok)
	ep, ok := svc.(*Endpoint)
	require.True(t, ok)
	assert.Equal(t, "node-a.7", ep.Key())
	consumer.Release(h)

	require.Len(t, m.Imported(), 1)
	assert.Equal(t, 1, m.Len())
}

func TestMirrorSkipsOwnEndpoints(t *testing.T) {
	reg := newTestRegistry(t)
	m := newTestMirror(t, reg, 0)

	own := peerEndpoint(1, time.Now())
	own.Runtime = "node-b"
	key, data := encode(t, own)
	require.NoError(t, m.HandleEntry(key, data))
	assert.Empty(t, imported(t, reg))
}

func TestMirrorDeleteRemovesEndpoint(t *testing.T) {
	reg := newTestRegistry(t)
	m := newTestMirror(t, reg, 0)

	key, data := encode(t, peerEndpoint(7, time.Now()))
	require.NoError(t, m.HandleEntry(key, data))
	require.NoError(t, m.HandleEntry(key, nil))
	assert.Empty(t, imported(t, reg))
	assert.Equal(t, 0, m.Len())

	require.NoError(t, m.HandleEntry(key, nil), "deleting an unknown endpoint is a no-op")
}

func TestMirrorRejectsBadEntries(t *testing.T) {
	reg := newTestRegistry(t)
	m := newTestMirror(t, reg, 0)

	assert.True(t, errors.IsInvalid(m.HandleEntry("no-id", []byte(`{}`))))
	assert.True(t, errors.IsInvalid(m.HandleEntry("node-a.1", []byte(`{not json`))))
	assert.True(t, errors.IsInvalid(m.HandleEntry("node-a.1", []byte(`{"runtime":"node-a","service_id":1}`))))

	_, data := encode(t, peerEndpoint(7, time.Now()))
	assert.True(t, errors.IsInvalid(m.HandleEntry("node-a.8", data)), "key mismatch")
	assert.Empty(t, imported(t, reg))
}

func TestMirrorRefreshKeepsRegistration(t *testing.T) {
	reg := newTestRegistry(t)
	m := newTestMirror(t, reg, 0)
	start := time.Now()

	key, data := encode(t, peerEndpoint(7, start))
	require.NoError(t, m.HandleEntry(key, data))
	first := imported(t, reg)[0].ID

	_, data = encode(t, peerEndpoint(7, start.Add(time.Second)))
	require.NoError(t, m.HandleEntry(key, data))
	assert.Equal(t, first, imported(t, reg)[0].ID)
	assert.True(t, m.Imported()[0].Announced.Equal(start.Add(time.Second)))

	changed := peerEndpoint(7, start.Add(2*time.Second))
	changed.Properties["region"] = "us"
	_, data = encode(t, changed)
	require.NoError(t, m.HandleEntry(key, data))
	handles := imported(t, reg)
	require.Len(t, handles, 1)
	assert.NotEqual(t, first, handles[0].ID)
	assert.Equal(t, "us", handles[0].Property("region"))
}

func TestMirrorDropsStaleSession(t *testing.T) {
	reg := newTestRegistry(t)
	m := newTestMirror(t, reg, 0)
	start := time.Now()

	key, data := encode(t, peerEndpoint(7, start))
	require.NoError(t, m.HandleEntry(key, data))

	restarted := peerEndpoint(2, start.Add(time.Second))
	restarted.Session = "s2"
	key, data = encode(t, restarted)
	require.NoError(t, m.HandleEntry(key, data))

	eps := m.Imported()
	require.Len(t, eps, 1)
	assert.Equal(t, "node-a.2", eps[0].Key())
}

func TestMirrorSweep(t *testing.T) {
	reg := newTestRegistry(t)
	m := newTestMirror(t, reg, time.Minute)
	start := time.Now()
	m.now = func() time.Time { return start.Add(90 * time.Second) }

	key, data := encode(t, peerEndpoint(1, start))
	require.NoError(t, m.HandleEntry(key, data))
	key, data = encode(t, peerEndpoint(2, start.Add(time.Minute)))
	require.NoError(t, m.HandleEntry(key, data))

	assert.Equal(t, 1, m.Sweep())
	eps := m.Imported()
	require.Len(t, eps, 1)
	assert.Equal(t, int64(2), eps[0].ServiceID)
}

func TestMirrorStop(t *testing.T) {
	reg := newTestRegistry(t)
	m := newTestMirror(t, reg, 0)

	key, data := encode(t, peerEndpoint(7, time.Now()))
	require.NoError(t, m.HandleEntry(key, data))

	require.NoError(t, m.Stop(time.Second))
	assert.Empty(t, imported(t, reg))
	assert.Equal(t, 0, reg.Len())
	assert.NoError(t, m.Stop(time.Second), "idempotent")

	assert.True(t, errors.Is(m.HandleEntry(key, data), errors.ErrDisposed))
}

func TestMirrorStartNeedsStore(t *testing.T) {
	m := newTestMirror(t, newTestRegistry(t), 0)
	err := m.Start(context.Background())
	assert.True(t, errors.Is(err, errors.ErrStorageUnavailable))
}
