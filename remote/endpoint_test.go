package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/semwire/registry"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		key     string
		runtime string
		id      int64
		ok      bool
	}{
		{"node-a.12", "node-a", 12, true},
		{"eu.west.node.3", "eu.west.node", 3, true},
		{"node-a", "", 0, false},
		{".12", "", 0, false},
		{"node-a.", "", 0, false},
		{"node-a.x", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			runtime, id, ok := parseKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.runtime, runtime)
			assert.Equal(t, tt.id, id)
		})
	}
	assert.Equal(t, "node-a.12", (&Endpoint{Runtime: "node-a", ServiceID: 12}).Key())
}

func TestExportedInterfaces(t *testing.T) {
	h := func(v any) registry.Handle {
		return registry.Handle{
			ID:         1,
			Interfaces: []string{"a.Store", "b.Sink"},
			Properties: registry.Properties{DefaultExportProperty: v},
		}
	}

	assert.Equal(t, []string{"a.Store", "b.Sink"}, exportedInterfaces(h("*"), DefaultExportProperty))
	assert.Equal(t, []string{"b.Sink"}, exportedInterfaces(h("b.Sink"), DefaultExportProperty))
	assert.Equal(t, []string{"a.Store", "b.Sink"}, exportedInterfaces(h("a.Store, b.Sink"), DefaultExportProperty))
	assert.Equal(t, []string{"a.Store"}, exportedInterfaces(h([]string{"a.Store", "c.Other"}), DefaultExportProperty))
	assert.Equal(t, []string{"b.Sink"}, exportedInterfaces(h([]any{"b.Sink", 3}), DefaultExportProperty))
	assert.Equal(t, []string{"a.Store", "b.Sink"}, exportedInterfaces(h([]any{"*"}), DefaultExportProperty))
	assert.Empty(t, exportedInterfaces(h("c.Other"), DefaultExportProperty))
	assert.Empty(t, exportedInterfaces(h(true), DefaultExportProperty))
	assert.Empty(t, exportedInterfaces(registry.Handle{Interfaces: []string{"a.Store"}}, DefaultExportProperty))
}

func TestPortableProperties(t *testing.T) {
	props := portableProperties(registry.Properties{
		registry.PropServiceID:   int64(4),
		registry.PropRanking:     10,
		registry.PropObjectClass: []string{"a.Store"},
		"region":                 "eu",
		"replicas":               3,
		"tags":                   []any{"x", 1.5},
		"limits":                 map[string]any{"max": 10},
		"callback":               func() {},
		"nested":                 []any{func() {}},
	})
	assert.Equal(t, map[string]any{
		"region":   "eu",
		"replicas": 3,
		"tags":     []any{"x", 1.5},
		"limits":   map[string]any{"max": 10},
	}, props)
}

func TestEndpointServiceProperties(t *testing.T) {
	ep := &Endpoint{Runtime: "peer", ServiceID: 7, Ranking: 5, Properties: map[string]any{"region": "eu"}}
	props := ep.serviceProperties()
	assert.Equal(t, true, props[PropImported])
	assert.Equal(t, "peer", props[PropImportedRuntime])
	assert.Equal(t, int64(7), props[PropImportedID])
	assert.Equal(t, 5, props[registry.PropRanking])
	assert.Equal(t, "eu", props["region"])
	assert.NotContains(t, ep.Properties, PropImported, "endpoint properties are not modified")
}
