package remote

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/c360/semwire/registry"
)

// Property keys
const (
	// DefaultExportProperty marks services to announce.
	DefaultExportProperty = "service.exported.interfaces"

	PropImported        = "service.imported"
	PropImportedRuntime = "service.imported.runtime"
	PropImportedID      = "service.imported.id"
)

// Endpoint describes a service announced by a runtime.
type Endpoint struct {
	Runtime    string         `json:"runtime"`
	Session    string         `json:"session"`
	ServiceID  int64          `json:"service_id"`
	Interfaces []string       `json:"interfaces"`
	Ranking    int            `json:"ranking,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Announced  time.Time      `json:"announced"`
}

// Key returns the bucket key of the endpoint.
func (e *Endpoint) Key() string {
	return endpointKey(e.Runtime, e.ServiceID)
}

// String describes the endpoint for logs.
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s/%d %v", e.Runtime, e.ServiceID, e.Interfaces)
}

func endpointKey(runtime string, id int64) string {
	return runtime + "." + strconv.FormatInt(id, 10)
}

// parseKey splits a bucket key. Runtime ids may contain dots; the service
// id never does.
func parseKey(key string) (runtime string, id int64, ok bool) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key[:i], id, true
}

// exportedInterfaces returns the interfaces of h named by its export
// property. "*" exports all of them.
func exportedInterfaces(h registry.Handle, prop string) []string {
	var names []string
	switch v := h.Property(prop).(type) {
	case string:
		if v == "*" {
			return slices.Clone(h.Interfaces)
		}
		names = strings.Split(v, ",")
	case []string:
		names = v
	case []any:
		for _, n := range v {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
	default:
		return nil
	}

	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "*" {
			return slices.Clone(h.Interfaces)
		}
		if h.Provides(n) && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// portableProperties keeps the properties that survive a JSON round trip
// and are meaningful on another runtime.
func portableProperties(props registry.Properties) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch k {
		case registry.PropServiceID, registry.PropObjectClass, registry.PropRanking:
			continue
		}
		if portable(v) {
			out[k] = v
		}
	}
	return out
}

func portable(v any) bool {
	switch v := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return true
	case []string:
		return true
	case []any:
		for _, e := range v {
			if !portable(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range v {
			if !portable(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// serviceProperties are the properties a mirrored endpoint is registered with.
func (e *Endpoint) serviceProperties() registry.Properties {
	props := registry.Properties(maps.Clone(e.Properties))
	if props == nil {
		props = registry.Properties{}
	}
	props[PropImported] = true
	props[PropImportedRuntime] = e.Runtime
	props[PropImportedID] = e.ServiceID
	if e.Ranking != 0 {
		props[registry.PropRanking] = e.Ranking
	}
	return props
}
