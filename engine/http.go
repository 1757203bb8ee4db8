package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/health"
)

// ReferenceStatus describes one dependency manager of a component
type ReferenceStatus struct {
	Name        string   `json:"name"`
	Interface   string   `json:"interface"`
	Target      string   `json:"target,omitempty"`
	Cardinality string   `json:"cardinality"`
	Policy      string   `json:"policy"`
	Valid       bool     `json:"valid"`
	Candidates  int      `json:"candidates"`
	Bound       []string `json:"bound"`
}

// ComponentStatus describes a component for the HTTP API
type ComponentStatus struct {
	Name           string             `json:"name"`
	ID             int64              `json:"id"`
	Implementation string             `json:"implementation"`
	State          string             `json:"state"`
	Properties     map[string]any     `json:"properties,omitempty"`
	References     []ReferenceStatus  `json:"references"`
	Health         health.Status      `json:"health"`
	Counters       map[string]float64 `json:"counters,omitempty"` // metric counters labelled with the component
}

// extractComponentName takes the last path segment as a component name
func extractComponentName(path string) (string, bool) {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return "", false
	}

	name := parts[len(parts)-1]
	if name == "" || name == "." || name == ".." {
		return "", false
	}
	decoded, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	if strings.Contains(decoded, "/") || strings.Contains(decoded, "\\") {
		return "", false
	}
	return decoded, true
}

// RegisterHTTPHandlers registers the component endpoints under prefix:
//
//	GET  {prefix}list             all components
//	GET  {prefix}status/{name}    one component
//	POST {prefix}enable/{name}
//	POST {prefix}disable/{name}
//	PUT  {prefix}config/{name}    JSON properties, overlaid on the descriptor's
//	GET  {prefix}implementations  registered implementations
func (r *Runtime) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	mux.HandleFunc(prefix+"list", r.handleList)
	mux.HandleFunc(prefix+"status/", r.handleStatus)
	mux.HandleFunc(prefix+"enable/", r.handleToggle(true))
	mux.HandleFunc(prefix+"disable/", r.handleToggle(false))
	mux.HandleFunc(prefix+"config/", r.handleConfig)
	mux.HandleFunc(prefix+"implementations", r.handleImplementations)

	r.logger.Info("Component HTTP handlers registered", "prefix", prefix)
}

// Status returns the HTTP view of a component.
func (r *Runtime) Status(name string) (ComponentStatus, error) {
	m, err := r.lookup(name)
	if err != nil {
		return ComponentStatus{}, err
	}
	ctrl := m.ctrl
	desc := ctrl.Descriptor()

	status := ComponentStatus{
		Name:           name,
		ID:             ctrl.ID(),
		Implementation: desc.Implementation,
		State:          ctrl.State().String(),
		Properties:     ctrl.Properties(),
		References:     []ReferenceStatus{},
		Health:         health.FromComponent(r.report(m)),
	}
	for _, dm := range ctrl.Dependencies() {
		ref := dm.Reference()
		rs := ReferenceStatus{
			Name:        ref.Name,
			Interface:   ref.Interface,
			Target:      dm.Target(),
			Cardinality: string(component.MandatoryUnary),
			Policy:      string(component.PolicyStatic),
			Valid:       dm.IsValid(),
			Candidates:  dm.Size(),
			Bound:       []string{},
		}
		if ref.Cardinality != "" {
			rs.Cardinality = string(ref.Cardinality)
		}
		if ref.Policy != "" {
			rs.Policy = string(ref.Policy)
		}
		for _, h := range dm.BoundHandles() {
			rs.Bound = append(rs.Bound, h.String())
		}
		status.References = append(status.References, rs)
	}

	counters, err := r.cfg.Metrics.ComponentCounters(name)
	if err != nil {
		r.logger.Warn("Component counters unavailable", "component", name, "error", err)
	}
	status.Counters = counters
	return status, nil
}

func (r *Runtime) handleList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := r.Components()
	list := make([]ComponentStatus, 0, len(names))
	for _, name := range names {
		status, err := r.Status(name)
		if err != nil {
			continue // removed meanwhile
		}
		list = append(list, status)
	}
	r.writeJSON(w, http.StatusOK, map[string]any{"components": list, "count": len(list)})
}

func (r *Runtime) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name, ok := extractComponentName(req.URL.Path)
	if !ok {
		http.Error(w, "Invalid component name", http.StatusBadRequest)
		return
	}
	status, err := r.Status(name)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	r.writeJSON(w, http.StatusOK, status)
}

func (r *Runtime) handleToggle(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name, ok := extractComponentName(req.URL.Path)
		if !ok {
			http.Error(w, "Invalid component name", http.StatusBadRequest)
			return
		}

		var err error
		if enable {
			err = r.Enable(name)
		} else {
			err = r.Disable(name)
		}
		if err != nil {
			r.writeError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (r *Runtime) handleConfig(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name, ok := extractComponentName(req.URL.Path)
	if !ok {
		http.Error(w, "Invalid component name", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	var props map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &props); err != nil {
			http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := r.Reconfigure(name, props); err != nil {
		r.writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleImplementations(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.writeJSON(w, http.StatusOK, r.impls.ListAvailable())
}

func (r *Runtime) writeError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, errors.ErrUnknownComponent):
		http.NotFound(w, req)
	case errors.Is(err, errors.ErrDisposed):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		r.logger.Error("Component request failed", "path", req.URL.Path, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func (r *Runtime) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.logger.Error("Failed to encode response", "error", err)
	}
}
